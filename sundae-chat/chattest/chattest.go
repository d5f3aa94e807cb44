// Package chattest provides in-memory registry, log and push channel implementations
// for exercising the dispatcher without DynamoDB or API Gateway.
package chattest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	sundaechat "github.com/SundaeSwap-finance/sundae-chat/sundae-chat"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/connectiondao"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/messagedao"
	"github.com/oklog/ulid/v2"
)

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Registry is an in-memory sundaechat.Registry with the same expiry rules as
// connectiondao.
type Registry struct {
	Now func() time.Time
	TTL time.Duration

	// errors injected into the matching operation
	RegisterErr   error
	DeregisterErr error
	ListErr       error

	mu    sync.Mutex
	conns map[string]connectiondao.Connection
	items map[string]bool // pk|sk of the stored copies of each connection
}

func NewRegistry(now func() time.Time) *Registry {
	return &Registry{
		Now:   now,
		TTL:   connectiondao.DefaultTTL,
		conns: map[string]connectiondao.Connection{},
		items: map[string]bool{},
	}
}

func (r *Registry) Register(_ context.Context, connectionID, room, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.RegisterErr != nil {
		return r.RegisterErr
	}

	now := r.Now()
	if existing, ok := r.conns[connectionID]; ok && !existing.Expired(now) {
		if existing.Room != room || existing.UserID != userID {
			return fmt.Errorf("connection %v: %w", connectionID, connectiondao.ErrDuplicateConnection)
		}
		existing.TTL = now.Add(r.TTL).Unix()
		r.conns[connectionID] = existing
		return nil
	}

	if existing, ok := r.conns[connectionID]; ok {
		r.remove(existing)
	}
	conn := connectiondao.Connection{
		ConnectionID: connectionID,
		Room:         room,
		UserID:       userID,
		ConnectedAt:  now.Unix(),
		TTL:          now.Add(r.TTL).Unix(),
	}
	r.conns[connectionID] = conn
	r.items[itemKey(conn.Primary())] = true
	r.items[itemKey(conn.Membership())] = true
	return nil
}

func itemKey(c connectiondao.Connection) string {
	return c.PK + "|" + c.SK
}

func (r *Registry) remove(c connectiondao.Connection) {
	delete(r.items, itemKey(c.Primary()))
	delete(r.items, itemKey(c.Membership()))
	delete(r.conns, c.ConnectionID)
}

func (r *Registry) Deregister(_ context.Context, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.DeregisterErr != nil {
		return r.DeregisterErr
	}
	if c, ok := r.conns[connectionID]; ok {
		r.remove(c)
	}
	return nil
}

func (r *Registry) ListByRoom(_ context.Context, room string) ([]connectiondao.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ListErr != nil {
		return nil, r.ListErr
	}

	now := r.Now()
	var conns []connectiondao.Connection
	for _, c := range r.conns {
		if c.Room == room && !c.Expired(now) && r.items[itemKey(c.Membership())] {
			conns = append(conns, c)
		}
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ConnectionID < conns[j].ConnectionID })
	return conns, nil
}

func (r *Registry) Touch(_ context.Context, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Now()
	c, ok := r.conns[connectionID]
	if !ok || c.Expired(now) || !r.items[itemKey(c.Primary())] {
		return fmt.Errorf("connection %v: %w", connectionID, connectiondao.ErrNotFound)
	}
	c.TTL = now.Add(r.TTL).Unix()
	r.conns[connectionID] = c
	return nil
}

// ScanExpired returns the remaining copies of every expired connection.
func (r *Registry) ScanExpired(_ context.Context, now time.Time) ([]connectiondao.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []connectiondao.Connection
	for _, c := range r.conns {
		if !c.Expired(now) {
			continue
		}
		for _, item := range []connectiondao.Connection{c.Primary(), c.Membership()} {
			if r.items[itemKey(item)] {
				expired = append(expired, item)
			}
		}
	}
	sort.Slice(expired, func(i, j int) bool { return itemKey(expired[i]) < itemKey(expired[j]) })
	return expired, nil
}

// DeleteExpired removes one copy of a connection if it is still expired at now.
func (r *Registry) DeleteExpired(_ context.Context, item connectiondao.Connection, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[item.ConnectionID]
	key := itemKey(item)
	if !ok || !r.items[key] || !c.Expired(now) {
		return false, nil
	}
	delete(r.items, key)
	if !r.items[itemKey(c.Primary())] && !r.items[itemKey(c.Membership())] {
		delete(r.conns, c.ConnectionID)
	}
	return true, nil
}

// Get returns a registered connection regardless of expiry.
func (r *Registry) Get(connectionID string) (connectiondao.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connectionID]
	return c, ok && r.items[itemKey(c.Primary())]
}

// Log is an in-memory sundaechat.Log.
type Log struct {
	Now       func() time.Time
	Retention time.Duration

	// AppendErr, when set, fails every Append.
	AppendErr error

	mu   sync.Mutex
	last time.Time
	msgs []messagedao.Message
}

func NewLog(now func() time.Time) *Log {
	return &Log{
		Now:       now,
		Retention: messagedao.DefaultRetention,
	}
}

func (l *Log) Append(_ context.Context, msg messagedao.Message) (messagedao.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.AppendErr != nil {
		return messagedao.Message{}, l.AppendErr
	}

	now := l.Now().UTC().Truncate(time.Microsecond)
	if now.Before(l.last) {
		now = l.last
	}
	l.last = now

	msg.MessageID = ulid.Make().String()
	msg.Timestamp = messagedao.FormatTime(now)
	msg.SK = msg.Timestamp + "#" + msg.MessageID
	msg.TTL = now.Add(l.Retention).Unix()
	l.msgs = append(l.msgs, msg)
	return msg, nil
}

// QueryByRoom returns the visible messages of a room.
func (l *Log) QueryByRoom(_ context.Context, room string, opts messagedao.QueryOptions) ([]messagedao.Message, error) {
	return l.query(opts, func(m messagedao.Message) bool { return m.Room == room }), nil
}

// QueryByUser returns the visible messages of a user across rooms.
func (l *Log) QueryByUser(_ context.Context, userID string, opts messagedao.QueryOptions) ([]messagedao.Message, error) {
	return l.query(opts, func(m messagedao.Message) bool { return m.UserID == userID }), nil
}

func (l *Log) query(opts messagedao.QueryOptions, match func(messagedao.Message) bool) []messagedao.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.Now()
	var msgs []messagedao.Message
	for _, m := range l.msgs {
		if !match(m) || m.Expired(now) {
			continue
		}
		if !opts.Since.IsZero() && m.SK < messagedao.FormatTime(opts.Since) {
			continue
		}
		msgs = append(msgs, m)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if opts.Descending {
			return msgs[i].SK > msgs[j].SK
		}
		return msgs[i].SK < msgs[j].SK
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = messagedao.DefaultLimit
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs
}

func (l *Log) ScanExpired(_ context.Context, now time.Time) ([]messagedao.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var expired []messagedao.Message
	for _, m := range l.msgs {
		if m.Expired(now) {
			expired = append(expired, m)
		}
	}
	return expired, nil
}

func (l *Log) Delete(_ context.Context, msgs ...messagedao.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	drop := map[string]bool{}
	for _, m := range msgs {
		drop[m.Room+"|"+m.SK] = true
	}
	kept := l.msgs[:0]
	for _, m := range l.msgs {
		if !drop[m.Room+"|"+m.SK] {
			kept = append(kept, m)
		}
	}
	l.msgs = kept
	return nil
}

// Messages returns everything appended so far, expired or not.
func (l *Log) Messages() []messagedao.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]messagedao.Message(nil), l.msgs...)
}

// Pusher records pushes per connection. Connections in Gone report ErrDeliveryGone;
// connections in Fail report the given error.
type Pusher struct {
	Delay time.Duration

	mu     sync.Mutex
	sent   map[string][][]byte
	gone   map[string]bool
	fail   map[string]error
	closed []string
}

func NewPusher() *Pusher {
	return &Pusher{
		sent: map[string][][]byte{},
		gone: map[string]bool{},
		fail: map[string]error{},
	}
}

func (p *Pusher) SetGone(connectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gone[connectionID] = true
}

func (p *Pusher) SetFail(connectionID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[connectionID] = err
}

func (p *Pusher) Push(ctx context.Context, connectionID string, data []byte) error {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return fmt.Errorf("push to %v: %w: %v", connectionID, sundaechat.ErrDeliveryTransient, ctx.Err())
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gone[connectionID] {
		return fmt.Errorf("connection %v: %w", connectionID, sundaechat.ErrDeliveryGone)
	}
	if err := p.fail[connectionID]; err != nil {
		return err
	}
	p.sent[connectionID] = append(p.sent[connectionID], data)
	return nil
}

// Close marks a connection as closed; later pushes to it report ErrDeliveryGone.
func (p *Pusher) Close(_ context.Context, connectionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, connectionID)
	p.gone[connectionID] = true
	return nil
}

// Closed returns the connections closed so far, in order.
func (p *Pusher) Closed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.closed...)
}

// Sent returns the raw payloads delivered to a connection.
func (p *Pusher) Sent(connectionID string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.sent[connectionID]...)
}

// Outbound returns the chat messages delivered to a connection, skipping other envelopes.
func (p *Pusher) Outbound(connectionID string) []sundaechat.Outbound {
	var out []sundaechat.Outbound
	for _, data := range p.Sent(connectionID) {
		var o sundaechat.Outbound
		if err := json.Unmarshal(data, &o); err == nil && o.Action == sundaechat.ActionMessage {
			out = append(out, o)
		}
	}
	return out
}
