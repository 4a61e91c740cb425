// The worker process runs the outreach pipeline: queue consumers for sends
// and follow-up checks, plus the redundant automation poller.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/followup"
	"github.com/ignite/outreach/internal/mailbox"
	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/poller"
	"github.com/ignite/outreach/internal/queue"
	"github.com/ignite/outreach/internal/replydetect"
	"github.com/ignite/outreach/internal/store"
	"github.com/ignite/outreach/internal/transport"
	"github.com/ignite/outreach/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config YAML")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config failed", "error", err.Error())
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.SetRedactPII(cfg.IsProduction())

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("open database failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("database unreachable", "error", err.Error())
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to advisory locks", "error", err.Error())
			redisClient = nil
		}
	}
	locks := distlock.NewFactory(redisClient, db)

	st := store.New(db)
	q := queue.NewPGQueue(db, cfg.Queue.MaxAttempts, cfg.Queue.BackoffBase, cfg.Queue.VisibilityTimeout)

	mailgun := transport.NewMailgunMailer(cfg.Mailgun.APIKey, cfg.Mailgun.Domain, cfg.Mailgun.BaseURL)
	var fallback transport.Mailer
	if cfg.SES.AccessKey != "" {
		ses, err := transport.NewSESMailer(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
		if err != nil {
			logger.Warn("ses fallback unavailable", "error", err.Error())
		} else {
			fallback = ses
		}
	}
	sender := transport.NewSender(mailgun, fallback, nil, &transport.Policy{
		ThresholdDays:     cfg.Warmup.ThresholdDays,
		UnsubscribeMailto: cfg.Sender.OutreachAddress,
		UnsubscribeURL:    cfg.Sender.UnsubscribeURL,
	})

	tokens := mailbox.NewTokenManager(st.Mailboxes, cfg.Google.ClientID, cfg.Google.ClientSecret)
	searcher := mailbox.NewGmailSearcher(tokens)
	detector := replydetect.New(searcher, st.Emails, st.Contacts, q)

	machine := followup.NewMachine(st.Contacts, st.Emails, st.Templates, q,
		cfg.StepDelay, 15*time.Minute, cfg.FollowUp.MaxReschedules)

	w := worker.New(st.Contacts, st.Emails, sender, machine, detector, q, locks,
		worker.SenderConfig{
			FromName:  cfg.Sender.FromName,
			FromEmail: cfg.Sender.FromEmail,
			ReplyTo:   cfg.Sender.OutreachAddress,
		},
		func() int { return cfg.WarmupDay(time.Now()) },
		cfg.StepDelay)

	consumer := queue.NewConsumer(q, cfg.Queue.PollInterval)
	w.Register(consumer, cfg.Queue.SendConcurrency, cfg.Queue.FollowUpConcurrency)
	consumer.Start(ctx)

	var sweep *poller.Poller
	if cfg.Poller.Enabled {
		sweep = poller.New(st.Contacts, st.Emails, q, locks, cfg.Poller.Interval)
		sweep.Start(ctx)
	}

	logger.Info("worker started", "environment", cfg.Environment,
		"send_concurrency", cfg.Queue.SendConcurrency,
		"follow_up_concurrency", cfg.Queue.FollowUpConcurrency,
		"poller", cfg.Poller.Enabled)

	<-ctx.Done()
	logger.Info("shutting down")
	if sweep != nil {
		sweep.Stop()
	}
	consumer.Shutdown()
}
