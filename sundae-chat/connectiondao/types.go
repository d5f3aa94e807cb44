package connectiondao

import (
	"strings"
	"time"
)

const (
	connectionPrefix = "conn#"
	roomPrefix       = "room#"
	connectionSK     = "conn"
)

// Connection is one item of the connections table. Every registered connection is stored
// twice: once under its own partition (point lookup by connection id) and once under its
// room's partition (membership, range lookup by room). Both items carry the same attributes.
type Connection struct {
	PK           string `dynamodbav:"pk" ddb:"hash"`
	SK           string `dynamodbav:"sk" ddb:"range"`
	ConnectionID string `dynamodbav:"connection_id"`
	Room         string `dynamodbav:"room"`
	UserID       string `dynamodbav:"user_id"`
	ConnectedAt  int64  `dynamodbav:"connected_at"`
	TTL          int64  `dynamodbav:"ttl"`
}

// ExpiresAt returns the time after which the connection is no longer considered active.
func (c Connection) ExpiresAt() time.Time {
	return time.Unix(c.TTL, 0).UTC()
}

// Expired reports whether the connection's TTL has elapsed at now. This is the only
// expiry rule; reads and the reaper both use it.
func (c Connection) Expired(now time.Time) bool {
	return c.TTL <= now.Unix()
}

// IsMembership reports whether this is the room membership copy of the connection.
func (c Connection) IsMembership() bool {
	return strings.HasPrefix(c.PK, roomPrefix)
}

// Primary returns the connection-partition copy of c.
func (c Connection) Primary() Connection {
	c.PK, c.SK = connectionKey(c.ConnectionID)
	return c
}

// Membership returns the room-partition copy of c.
func (c Connection) Membership() Connection {
	c.PK, c.SK = membershipKey(c.Room, c.ConnectionID)
	return c
}

func connectionKey(connectionID string) (pk, sk string) {
	return connectionPrefix + connectionID, connectionSK
}

func membershipKey(room, connectionID string) (pk, sk string) {
	return roomPartition(room), connectionID
}

func roomPartition(room string) string {
	return roomPrefix + room
}
