// Package reaper removes connections and messages whose TTL has elapsed. Reads already
// ignore expired records, so the reaper only reclaims storage and closes stale sockets;
// it can run on any schedule, or not at all, without affecting correctness.
package reaper

import (
	"context"
	"fmt"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-chat/sundae-cli"
	sundaechat "github.com/SundaeSwap-finance/sundae-chat/sundae-chat"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/connectiondao"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/messagedao"
	sundaeddb "github.com/SundaeSwap-finance/sundae-chat/sundae-ddb"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/rs/zerolog"
)

type Connections interface {
	ScanExpired(ctx context.Context, now time.Time) ([]connectiondao.Connection, error)
	DeleteExpired(ctx context.Context, item connectiondao.Connection, now time.Time) (bool, error)
}

type Messages interface {
	ScanExpired(ctx context.Context, now time.Time) ([]messagedao.Message, error)
	Delete(ctx context.Context, msgs ...messagedao.Message) error
}

type Reaper struct {
	Connections Connections
	Messages    Messages
	Closer      sundaechat.Closer  // optional; closes expired sockets at the gateway
	Metrics     sundaechat.Metrics // optional
	Logger      zerolog.Logger
	Now         func() time.Time
	Dry         bool
}

// Stats summarises one sweep.
type Stats struct {
	ExpiredConnections int
	DeletedConnections int
	SkippedConnections int // touched or removed since the scan
	ClosedConnections  int
	ExpiredMessages    int
	DeletedMessages    int
	Failures           int
}

func (r *Reaper) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Sweep deletes everything that has expired as of now. Individual failures are counted
// and logged; only a failed scan aborts the sweep.
func (r *Reaper) Sweep(ctx context.Context) (Stats, error) {
	var (
		now   = r.now()
		stats Stats
	)

	if r.Connections != nil {
		if err := r.sweepConnections(ctx, now, &stats); err != nil {
			return stats, err
		}
	}
	if r.Messages != nil {
		if err := r.sweepMessages(ctx, now, &stats); err != nil {
			return stats, err
		}
	}

	r.Logger.Info().
		Int("expired_connections", stats.ExpiredConnections).
		Int("deleted_connections", stats.DeletedConnections).
		Int("skipped_connections", stats.SkippedConnections).
		Int("closed_connections", stats.ClosedConnections).
		Int("expired_messages", stats.ExpiredMessages).
		Int("deleted_messages", stats.DeletedMessages).
		Int("failures", stats.Failures).
		Bool("dry", r.Dry).
		Msg("sweep complete")

	if r.Metrics != nil {
		r.Metrics.Count(ctx, sundaecli.ReapedMetric, stats.DeletedConnections+stats.DeletedMessages)
	}
	return stats, nil
}

func (r *Reaper) sweepConnections(ctx context.Context, now time.Time, stats *Stats) error {
	expired, err := r.Connections.ScanExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to scan expired connections: %w", err)
	}
	stats.ExpiredConnections = len(expired)

	for _, item := range expired {
		logger := r.Logger.With().Str("connection_id", item.ConnectionID).Str("pk", item.PK).Logger()
		if r.Dry {
			logger.Info().Msg("would delete expired connection item")
			continue
		}

		deleted, err := r.Connections.DeleteExpired(ctx, item, now)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to delete expired connection item")
			stats.Failures++
			continue
		}
		if !deleted {
			stats.SkippedConnections++
			continue
		}
		stats.DeletedConnections++

		if !item.IsMembership() && r.close(ctx, logger, item.ConnectionID) {
			stats.ClosedConnections++
		}
	}
	return nil
}

func (r *Reaper) sweepMessages(ctx context.Context, now time.Time, stats *Stats) error {
	expired, err := r.Messages.ScanExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to scan expired messages: %w", err)
	}
	stats.ExpiredMessages = len(expired)

	if r.Dry || len(expired) == 0 {
		return nil
	}
	if err := r.Messages.Delete(ctx, expired...); err != nil {
		r.Logger.Warn().Err(err).Int("count", len(expired)).Msg("failed to delete expired messages")
		stats.Failures++
		return nil
	}
	stats.DeletedMessages = len(expired)
	return nil
}

func (r *Reaper) close(ctx context.Context, logger zerolog.Logger, connectionID string) bool {
	if r.Closer == nil {
		return false
	}
	if err := r.Closer.Close(ctx, connectionID); err != nil {
		logger.Warn().Err(err).Msg("failed to close expired connection")
		return false
	}
	return true
}

// OnRemove handles a REMOVE record from the connections table stream. When DynamoDB's
// own TTL process removes a connection item, the sibling membership item is deleted and
// the socket is closed. Removals of live connections (explicit deregistration) are ignored.
func (r *Reaper) OnRemove(ctx context.Context, oldImage map[string]*dynamodb.AttributeValue) error {
	var item connectiondao.Connection
	if err := sundaeddb.ParseItem(oldImage, &item); err != nil {
		return err
	}

	now := r.now()
	if item.IsMembership() || !item.Expired(now) {
		return nil
	}

	logger := r.Logger.With().Str("connection_id", item.ConnectionID).Logger()
	logger.Debug().Msg("connection expired")
	if r.Dry {
		return nil
	}

	if r.Connections != nil {
		if _, err := r.Connections.DeleteExpired(ctx, item.Membership(), now); err != nil {
			return fmt.Errorf("failed to delete membership of %v: %w", item.ConnectionID, err)
		}
	}
	r.close(ctx, logger, item.ConnectionID)
	return nil
}
