package connectiondao

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	sundaeddb "github.com/SundaeSwap-finance/sundae-chat/sundae-ddb"
	"github.com/tj/assert"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func withTable(t *testing.T, callback func(ctx context.Context, dao *DAO, clock *clock)) {
	if !sundaeddb.LocalAvailable(sundaeddb.LocalEndpoint) {
		t.Skip("dynamodb local not available on " + sundaeddb.LocalEndpoint)
	}

	var (
		api       = sundaeddb.LocalAPI(sundaeddb.LocalEndpoint)
		tableName = fmt.Sprintf("connections-%v", time.Now().UnixNano())
		c         = &clock{now: time.Now()}
		dao       = New(api, tableName, WithTTL(time.Hour), WithClock(c.Now))
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := dao.CreateTableIfNotExists(ctx)
	assert.Nil(t, err)
	defer dao.DeleteTableIfExists(ctx)

	callback(ctx, dao, c)
}

func ids(conns []Connection) []string {
	var ss []string
	for _, c := range conns {
		ss = append(ss, c.ConnectionID)
	}
	sort.Strings(ss)
	return ss
}

func TestDAO(t *testing.T) {
	withTable(t, func(ctx context.Context, dao *DAO, c *clock) {
		err := dao.Register(ctx, "a", "general", "u1")
		assert.Nil(t, err)
		err = dao.Register(ctx, "b", "general", "u2")
		assert.Nil(t, err)
		err = dao.Register(ctx, "c", "random", "u3")
		assert.Nil(t, err)

		conns, err := dao.ListByRoom(ctx, "general")
		assert.Nil(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(conns))

		conns, err = dao.ListByRoom(ctx, "random")
		assert.Nil(t, err)
		assert.Equal(t, []string{"c"}, ids(conns))

		conns, err = dao.ListByRoom(ctx, "empty")
		assert.Nil(t, err)
		assert.Len(t, conns, 0)

		conn, err := dao.Get(ctx, "a")
		assert.Nil(t, err)
		assert.Equal(t, "general", conn.Room)
		assert.Equal(t, "u1", conn.UserID)
		assert.Equal(t, c.Now().Add(time.Hour).Unix(), conn.TTL)

		// deregister
		err = dao.Deregister(ctx, "a")
		assert.Nil(t, err)
		conns, err = dao.ListByRoom(ctx, "general")
		assert.Nil(t, err)
		assert.Equal(t, []string{"b"}, ids(conns))

		_, err = dao.Get(ctx, "a")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestRegisterTwice(t *testing.T) {
	withTable(t, func(ctx context.Context, dao *DAO, c *clock) {
		err := dao.Register(ctx, "a", "general", "u1")
		assert.Nil(t, err)

		c.Advance(10 * time.Minute)

		// identical registration refreshes
		err = dao.Register(ctx, "a", "general", "u1")
		assert.Nil(t, err)
		conn, err := dao.Get(ctx, "a")
		assert.Nil(t, err)
		assert.Equal(t, c.Now().Add(time.Hour).Unix(), conn.TTL)
		assert.Equal(t, c.Now().Add(-10*time.Minute).Unix(), conn.ConnectedAt)

		// a different room or user is a duplicate
		err = dao.Register(ctx, "a", "random", "u1")
		assert.True(t, errors.Is(err, ErrDuplicateConnection))
		err = dao.Register(ctx, "a", "general", "u2")
		assert.True(t, errors.Is(err, ErrDuplicateConnection))

		conns, err := dao.ListByRoom(ctx, "random")
		assert.Nil(t, err)
		assert.Len(t, conns, 0)
	})
}

func TestDeregisterIsIdempotent(t *testing.T) {
	withTable(t, func(ctx context.Context, dao *DAO, c *clock) {
		err := dao.Deregister(ctx, "never-registered")
		assert.Nil(t, err)

		err = dao.Register(ctx, "a", "general", "u1")
		assert.Nil(t, err)
		err = dao.Deregister(ctx, "a")
		assert.Nil(t, err)
		err = dao.Deregister(ctx, "a")
		assert.Nil(t, err)
	})
}

func TestExpiry(t *testing.T) {
	withTable(t, func(ctx context.Context, dao *DAO, c *clock) {
		err := dao.Register(ctx, "a", "general", "u1")
		assert.Nil(t, err)
		err = dao.Register(ctx, "b", "general", "u2")
		assert.Nil(t, err)

		c.Advance(40 * time.Minute)
		err = dao.Touch(ctx, "b")
		assert.Nil(t, err)

		// a has expired but has not been reaped; it must not be listed
		c.Advance(30 * time.Minute)
		conns, err := dao.ListByRoom(ctx, "general")
		assert.Nil(t, err)
		assert.Equal(t, []string{"b"}, ids(conns))

		_, err = dao.Get(ctx, "a")
		assert.True(t, errors.Is(err, ErrNotFound))

		// expired connections cannot be revived by activity
		err = dao.Touch(ctx, "a")
		assert.True(t, errors.Is(err, ErrNotFound))

		expired, err := dao.ScanExpired(ctx, c.Now())
		assert.Nil(t, err)
		assert.Len(t, expired, 2) // connection and membership items of a
		for _, item := range expired {
			assert.Equal(t, "a", item.ConnectionID)
			deleted, err := dao.DeleteExpired(ctx, item, c.Now())
			assert.Nil(t, err)
			assert.True(t, deleted)
		}

		expired, err = dao.ScanExpired(ctx, c.Now())
		assert.Nil(t, err)
		assert.Len(t, expired, 0)
	})
}

func TestDeleteExpiredSkipsTouched(t *testing.T) {
	withTable(t, func(ctx context.Context, dao *DAO, c *clock) {
		err := dao.Register(ctx, "a", "general", "u1")
		assert.Nil(t, err)

		conn, err := dao.Get(ctx, "a")
		assert.Nil(t, err)

		// the reaper decided a long time ago that the item was expired, but it was touched since
		deleted, err := dao.DeleteExpired(ctx, conn.Primary(), c.Now().Add(-time.Hour))
		assert.Nil(t, err)
		assert.False(t, deleted)

		_, err = dao.Get(ctx, "a")
		assert.Nil(t, err)
	})
}

func TestReRegisterAfterExpiry(t *testing.T) {
	withTable(t, func(ctx context.Context, dao *DAO, c *clock) {
		err := dao.Register(ctx, "a", "general", "u1")
		assert.Nil(t, err)

		c.Advance(2 * time.Hour)

		err = dao.Register(ctx, "a", "random", "u1")
		assert.Nil(t, err)

		conns, err := dao.ListByRoom(ctx, "random")
		assert.Nil(t, err)
		assert.Equal(t, []string{"a"}, ids(conns))

		expired, err := dao.ScanExpired(ctx, c.Now())
		assert.Nil(t, err)
		assert.Len(t, expired, 0) // stale membership in general was removed with the new registration
	})
}

func TestConnection(t *testing.T) {
	conn := Connection{ConnectionID: "abc", Room: "general", UserID: "u1", TTL: 100}

	primary := conn.Primary()
	assert.Equal(t, "conn#abc", primary.PK)
	assert.Equal(t, "conn", primary.SK)
	assert.False(t, primary.IsMembership())

	membership := conn.Membership()
	assert.Equal(t, "room#general", membership.PK)
	assert.Equal(t, "abc", membership.SK)
	assert.True(t, membership.IsMembership())

	assert.True(t, conn.Expired(time.Unix(100, 0)))
	assert.False(t, conn.Expired(time.Unix(99, 0)))
	assert.Equal(t, time.Unix(100, 0).UTC(), conn.ExpiresAt())
}
