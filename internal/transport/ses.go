package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESMailer delivers through AWS SES v2. Used as the fallback provider.
type SESMailer struct {
	client *sesv2.Client
}

// NewSESMailer builds the fallback mailer with static credentials.
func NewSESMailer(ctx context.Context, accessKey, secretKey, region string) (*SESMailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESMailer{client: sesv2.NewFromConfig(cfg)}, nil
}

func (m *SESMailer) Name() string { return "ses" }

// Send submits the message via the SES SendEmail API.
func (m *SESMailer) Send(ctx context.Context, req Request) Result {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", req.FromName, req.FromEmail)),
		Destination: &types.Destination{
			ToAddresses: []string{req.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(req.Subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(req.HTML)},
				},
			},
		},
	}
	if req.ReplyTo != "" {
		input.ReplyToAddresses = []string{req.ReplyTo}
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		permanent := strings.Contains(err.Error(), "MessageRejected") ||
			strings.Contains(err.Error(), "MailFromDomainNotVerified")
		return Result{Err: fmt.Errorf("ses send: %w", err), Permanent: permanent}
	}

	id := aws.ToString(out.MessageId)
	return Result{
		Success:    true,
		ProviderID: id,
		MessageID:  NormalizeMessageID(id),
	}
}
