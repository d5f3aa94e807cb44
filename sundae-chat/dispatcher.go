package sundaechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-chat/sundae-cli"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/connectiondao"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/messagedao"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 50
	DefaultPushTimeout = 5 * time.Second
)

// Registry tracks live connections and their rooms.
type Registry interface {
	Register(ctx context.Context, connectionID, room, userID string) error
	Deregister(ctx context.Context, connectionID string) error
	ListByRoom(ctx context.Context, room string) ([]connectiondao.Connection, error)
	Touch(ctx context.Context, connectionID string) error
}

// Log is the append-only message store.
type Log interface {
	Append(ctx context.Context, msg messagedao.Message) (messagedao.Message, error)
}

// Metrics is satisfied by sundaecli.Metrics.
type Metrics interface {
	Count(ctx context.Context, name sundaecli.MetricName, n int, dimensions ...map[sundaecli.DimensionName]string)
	Timing(ctx context.Context, name sundaecli.MetricName, start time.Time, dimensions ...map[sundaecli.DimensionName]string)
}

// Dispatcher persists inbound messages and fans them out to the members of a room.
type Dispatcher struct {
	Registry    Registry
	Log         Log
	Push        Pusher
	Logger      zerolog.Logger
	Concurrency int           // max concurrent pushes per fan-out (default 50)
	PushTimeout time.Duration // per push attempt (default 5s)
	Metrics     Metrics       // optional
}

// DeliveryStatus is the outcome of a single push.
type DeliveryStatus string

const (
	Delivered DeliveryStatus = "delivered"
	Gone      DeliveryStatus = "gone"
	Transient DeliveryStatus = "transient"
)

// Delivery records what happened to one fan-out target.
type Delivery struct {
	ConnectionID string
	Status       DeliveryStatus
	Err          error
}

// Broadcast is the result of a handled inbound message.
type Broadcast struct {
	Message    messagedao.Message
	Deliveries []Delivery
}

// Count returns the number of deliveries with the given status.
func (b Broadcast) Count(status DeliveryStatus) int {
	var n int
	for _, d := range b.Deliveries {
		if d.Status == status {
			n++
		}
	}
	return n
}

// HandleConnect registers a connection and greets it. A failed greeting does not undo
// the registration.
func (d *Dispatcher) HandleConnect(ctx context.Context, connectionID, room, userID string) error {
	logger := d.Logger.With().Str("connection_id", connectionID).Str("room", room).Logger()

	if err := d.Registry.Register(ctx, connectionID, room, userID); err != nil {
		if errors.Is(err, connectiondao.ErrDuplicateConnection) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrRegistry, err)
	}

	if err := d.push(ctx, connectionID, WelcomeMessage(connectionID, room, userID)); err != nil {
		logger.Warn().Err(err).Msg("failed to send welcome")
	}

	logger.Info().Str("user_id", userID).Msg("connection established")
	return nil
}

// HandleDisconnect deregisters a connection. It never fails; storage errors are logged.
func (d *Dispatcher) HandleDisconnect(ctx context.Context, connectionID string) {
	if err := d.Registry.Deregister(ctx, connectionID); err != nil {
		d.Logger.Error().Err(err).Str("connection_id", connectionID).Msg("failed to deregister connection")
		return
	}
	d.Logger.Info().Str("connection_id", connectionID).Msg("connection closed")
}

// HandleInboundMessage validates, persists and fans out one message from connectionID.
// Only ErrInvalidMessage, ErrPersistence and ErrRegistry are returned; per-target
// delivery failures are reported in the Broadcast.
func (d *Dispatcher) HandleInboundMessage(ctx context.Context, connectionID string, in Inbound) (Broadcast, error) {
	if err := in.Validate(); err != nil {
		return Broadcast{}, err
	}

	logger := d.Logger.With().
		Str("connection_id", connectionID).
		Str("room", in.Room).
		Logger()

	if err := d.Registry.Touch(ctx, connectionID); err != nil {
		logger.Warn().Err(err).Msg("failed to touch sender connection")
	}

	msg, err := d.Log.Append(ctx, messagedao.Message{
		Room:         in.Room,
		UserID:       in.UserID,
		ConnectionID: connectionID,
		Body:         in.Message,
	})
	if err != nil {
		return Broadcast{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	d.count(ctx, sundaecli.MessagePersistedMetric, 1)

	targets, err := d.Registry.ListByRoom(ctx, in.Room)
	if err != nil {
		return Broadcast{Message: msg}, fmt.Errorf("%w: message %v persisted but not delivered: %v", ErrRegistry, msg.MessageID, err)
	}

	data, err := json.Marshal(Outbound{
		Action:    ActionMessage,
		Room:      msg.Room,
		UserID:    msg.UserID,
		Message:   msg.Body,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		return Broadcast{Message: msg}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	deliveries := d.fanOut(ctx, logger, targets, data)

	logger.Debug().
		Str("message_id", msg.MessageID).
		Int("targets", len(targets)).
		Msg("message dispatched")

	return Broadcast{Message: msg, Deliveries: deliveries}, nil
}

// fanOut pushes data to every target. Each attempt has its own timeout and is detached
// from cancellation of ctx, so a started fan-out always runs to completion.
func (d *Dispatcher) fanOut(ctx context.Context, logger zerolog.Logger, targets []connectiondao.Connection, data []byte) []Delivery {
	if len(targets) == 0 {
		return nil
	}

	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var (
		started    = time.Now()
		detached   = context.WithoutCancel(ctx)
		deliveries = make([]Delivery, len(targets))
		g          errgroup.Group
	)
	g.SetLimit(concurrency)

	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			deliveries[i] = d.deliver(detached, logger, target.ConnectionID, data)
			return nil
		})
	}
	_ = g.Wait()

	result := Broadcast{Deliveries: deliveries}
	d.count(ctx, sundaecli.FanOutSizeMetric, len(targets))
	d.count(ctx, sundaecli.DeliveredMetric, result.Count(Delivered))
	d.count(ctx, sundaecli.DeliveryGoneMetric, result.Count(Gone))
	d.count(ctx, sundaecli.DeliveryFailedMetric, result.Count(Transient))
	if d.Metrics != nil {
		d.Metrics.Timing(ctx, sundaecli.FanOutTimeMetric, started)
	}

	return deliveries
}

// push makes one delivery attempt bounded by PushTimeout.
func (d *Dispatcher) push(ctx context.Context, connectionID string, data []byte) error {
	timeout := d.PushTimeout
	if timeout <= 0 {
		timeout = DefaultPushTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Push.Push(ctx, connectionID, data)
}

func (d *Dispatcher) deliver(ctx context.Context, logger zerolog.Logger, connectionID string, data []byte) Delivery {
	err := d.push(ctx, connectionID, data)

	switch {
	case err == nil:
		return Delivery{ConnectionID: connectionID, Status: Delivered}

	case errors.Is(err, ErrDeliveryGone):
		logger.Info().Str("target", connectionID).Msg("connection gone, cleaning up")
		if derr := d.Registry.Deregister(ctx, connectionID); derr != nil {
			logger.Error().Err(derr).Str("target", connectionID).Msg("failed to deregister gone connection")
		}
		return Delivery{ConnectionID: connectionID, Status: Gone, Err: err}

	default:
		logger.Warn().Err(err).Str("target", connectionID).Msg("failed to deliver message")
		if !errors.Is(err, ErrDeliveryTransient) {
			err = fmt.Errorf("%w: %v", ErrDeliveryTransient, err)
		}
		return Delivery{ConnectionID: connectionID, Status: Transient, Err: err}
	}
}

func (d *Dispatcher) count(ctx context.Context, name sundaecli.MetricName, n int) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.Count(ctx, name, n)
}
