package outreach

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// HTTPHandler exposes the outreach operations over REST.
type HTTPHandler struct {
	svc *Service
}

// NewHTTPHandler wraps the service for HTTP consumption.
func NewHTTPHandler(svc *Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// Routes mounts the outreach endpoints.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Post("/outreach/send", h.handleSend)
	r.Post("/outreach/bulk", h.handleBulk)
	r.Post("/outreach/contacts/{contactID}/stop-automation", h.handleStop)
	r.Post("/outreach/contacts/{contactID}/check", h.handleCheck)
}

type sendRequestBody struct {
	ContactID       string `json:"contact_id"`
	TemplateName    string `json:"template_name,omitempty"`
	Subject         string `json:"subject,omitempty"`
	BodyHTML        string `json:"body_html,omitempty"`
	StartAutomation bool   `json:"start_automation"`
}

type sendResponse struct {
	EmailRecordID string `json:"email_record_id"`
	Status        string `json:"status"`
}

func (h *HTTPHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	var body sendRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, "bad payload")
		return
	}
	if body.ContactID == "" {
		httputil.BadRequest(w, "contact_id is required")
		return
	}

	record, err := h.svc.SendEmail(r.Context(), SendRequest{
		ContactID:       body.ContactID,
		TemplateName:    body.TemplateName,
		Subject:         body.Subject,
		BodyHTML:        body.BodyHTML,
		StartAutomation: body.StartAutomation,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.JSON(w, http.StatusAccepted, sendResponse{
		EmailRecordID: record.ID,
		Status:        string(record.Status),
	})
}

type bulkRequestBody struct {
	ContactIDs      []string `json:"contact_ids"`
	TemplateName    string   `json:"template_name"`
	StartAutomation bool     `json:"start_automation"`
}

type bulkResponse struct {
	Queued []string          `json:"queued"`
	Failed map[string]string `json:"failed,omitempty"`
}

func (h *HTTPHandler) handleBulk(w http.ResponseWriter, r *http.Request) {
	var body bulkRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, "bad payload")
		return
	}
	if len(body.ContactIDs) == 0 {
		httputil.BadRequest(w, "contact_ids is required")
		return
	}

	result, err := h.svc.BulkSendEmails(r.Context(), BulkRequest{
		ContactIDs:      body.ContactIDs,
		TemplateName:    body.TemplateName,
		StartAutomation: body.StartAutomation,
	})
	if err != nil {
		logger.Error("bulk send failed", "error", err.Error())
		httputil.InternalError(w)
		return
	}

	resp := bulkResponse{Queued: result.Queued}
	if len(result.Failed) > 0 {
		resp.Failed = make(map[string]string, len(result.Failed))
		for id, ferr := range result.Failed {
			resp.Failed[id] = ferr.Error()
		}
	}
	httputil.JSON(w, http.StatusAccepted, resp)
}

func (h *HTTPHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactID")
	if err := h.svc.StopAutomation(r.Context(), contactID); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"contact_id": contactID, "automation": "stopped"})
}

func (h *HTTPHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactID")
	jobID, err := h.svc.TriggerAutomationCheck(r.Context(), contactID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.JSON(w, http.StatusAccepted, map[string]any{"job_id": jobID})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrContactNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTemplateNotFound), errors.Is(err, ErrEmptyMessage):
		httputil.BadRequest(w, err.Error())
	default:
		logger.Error("outreach request failed", "error", err.Error())
		httputil.InternalError(w)
	}
}
