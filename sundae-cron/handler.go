// Package sundaecron runs a task on a schedule: as a Lambda behind an EventBridge rule,
// or in console mode on a local ticker.
package sundaecron

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-chat/sundae-cli"
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
)

type RunCallback func(ctx context.Context) error

type Handler struct {
	service sundaecli.Service
	logger  zerolog.Logger

	runOnce RunCallback

	// Interval between runs in console mode; zero runs once and exits.
	Interval time.Duration
}

func NewHandler(
	service sundaecli.Service,
	runOnce RunCallback,
) *Handler {
	return &Handler{
		service: service,
		logger:  sundaecli.Logger(service),
		runOnce: runOnce,
	}
}

func (h *Handler) RunOnce(ctx context.Context, event events.CloudWatchEvent) error {
	h.logger.Info().Str("event_id", event.ID).Time("scheduled", event.Time).Msg("running scheduled task")
	return h.runOnce(h.logger.WithContext(ctx))
}

func (h *Handler) Start() error {
	switch {
	case sundaecli.CommonOpts.Console:
		return h.runLocal()

	default:
		lambda.Start(h.RunOnce)
	}
	return nil
}

func (h *Handler) runLocal() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = h.logger.WithContext(ctx)

	if err := h.runOnce(ctx); err != nil || h.Interval <= 0 {
		return err
	}

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("stopping scheduled task")
			return nil
		case <-ticker.C:
			if err := h.runOnce(ctx); err != nil {
				h.logger.Error().Err(err).Msg("scheduled task failed")
			}
		}
	}
}
