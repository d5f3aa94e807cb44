// Package history exposes the message log and room presence over GraphQL.
package history

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/connectiondao"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/messagedao"
	sundaegql "github.com/SundaeSwap-finance/sundae-chat/sundae-gql"
	"github.com/graph-gophers/graphql-go"
)

//go:embed history.gql
var schema string

type Log interface {
	QueryByRoom(ctx context.Context, room string, opts messagedao.QueryOptions) ([]messagedao.Message, error)
	QueryByUser(ctx context.Context, userID string, opts messagedao.QueryOptions) ([]messagedao.Message, error)
}

type Presence interface {
	ListByRoom(ctx context.Context, room string) ([]connectiondao.Connection, error)
}

type Resolver struct {
	config   *sundaegql.BaseConfig
	log      Log
	presence Presence
}

func New(config sundaegql.BaseConfig, log Log, presence Presence) *Resolver {
	return &Resolver{
		config:   &config,
		log:      log,
		presence: presence,
	}
}

func (r *Resolver) Schema() string {
	return sundaegql.MergeSchemas(schema, sundaegql.Common)
}

func (r *Resolver) Config() *sundaegql.BaseConfig {
	return r.config
}

func options(since *sundaegql.Timestamp, limit *int32, descending *bool) (messagedao.QueryOptions, error) {
	var opts messagedao.QueryOptions
	if since != nil {
		opts.Since = since.Time()
	}
	if limit != nil {
		if *limit < 0 || *limit > messagedao.MaxLimit {
			return opts, fmt.Errorf("limit must be between 0 and %v", messagedao.MaxLimit)
		}
		opts.Limit = int(*limit)
	}
	if descending != nil {
		opts.Descending = *descending
	}
	return opts, nil
}

func (r *Resolver) Messages(ctx context.Context, args struct {
	Room       string
	Since      *sundaegql.Timestamp
	Limit      *int32
	Descending *bool
}) ([]*Message, error) {
	opts, err := options(args.Since, args.Limit, args.Descending)
	if err != nil {
		return nil, err
	}
	msgs, err := r.log.QueryByRoom(ctx, args.Room, opts)
	if err != nil {
		return nil, fmt.Errorf("unable to load messages for room %v: %w", args.Room, err)
	}
	return wrapMessages(msgs), nil
}

func (r *Resolver) MessagesByUser(ctx context.Context, args struct {
	UserId     string
	Since      *sundaegql.Timestamp
	Limit      *int32
	Descending *bool
}) ([]*Message, error) {
	opts, err := options(args.Since, args.Limit, args.Descending)
	if err != nil {
		return nil, err
	}
	msgs, err := r.log.QueryByUser(ctx, args.UserId, opts)
	if err != nil {
		return nil, fmt.Errorf("unable to load messages for user %v: %w", args.UserId, err)
	}
	return wrapMessages(msgs), nil
}

func (r *Resolver) Connections(ctx context.Context, args struct{ Room string }) ([]*Connection, error) {
	conns, err := r.presence.ListByRoom(ctx, args.Room)
	if err != nil {
		return nil, fmt.Errorf("unable to load connections for room %v: %w", args.Room, err)
	}
	var out []*Connection
	for _, c := range conns {
		out = append(out, &Connection{c})
	}
	return out, nil
}

type Message struct {
	msg messagedao.Message
}

func wrapMessages(msgs []messagedao.Message) []*Message {
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, &Message{m})
	}
	return out
}

func (m *Message) ID() graphql.ID  { return graphql.ID(m.msg.MessageID) }
func (m *Message) Room() string    { return m.msg.Room }
func (m *Message) UserId() string  { return m.msg.UserID }
func (m *Message) Message() string { return m.msg.Body }

func (m *Message) Timestamp() (sundaegql.Timestamp, error) {
	t, err := m.msg.Time()
	if err != nil {
		return sundaegql.Timestamp{}, err
	}
	return sundaegql.Timestamp(t), nil
}

type Connection struct {
	conn connectiondao.Connection
}

func (c *Connection) ConnectionId() graphql.ID { return graphql.ID(c.conn.ConnectionID) }
func (c *Connection) UserId() string           { return c.conn.UserID }
func (c *Connection) ConnectedAt() sundaegql.Timestamp {
	return sundaegql.Timestamp(time.Unix(c.conn.ConnectedAt, 0))
}
func (c *Connection) ExpiresAt() sundaegql.Timestamp {
	return sundaegql.Timestamp(c.conn.ExpiresAt())
}
