package connectiondao

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sundaeddb "github.com/SundaeSwap-finance/sundae-chat/sundae-ddb"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DefaultTTL is how long a connection stays registered without activity.
const DefaultTTL = 24 * time.Hour

var (
	// ErrDuplicateConnection is returned when a connection id is registered again with a
	// different room or user.
	ErrDuplicateConnection = errors.New("duplicate connection")
	// ErrNotFound is returned when a connection is absent or expired.
	ErrNotFound = errors.New("connection not found")
)

// DAO provides access to the WebSocket connections table.
type DAO struct {
	client    *ddb.DDB
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

type Option func(*DAO)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(d *DAO) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(d *DAO) {
		d.now = now
	}
}

// New creates a new connections DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string, opts ...Option) *DAO {
	client := ddb.New(api)
	d := &DAO{
		client:    client,
		table:     client.MustTable(tableName, Connection{}),
		api:       api,
		tableName: tableName,
		ttl:       DefaultTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TableName returns the name of the underlying table.
func (d *DAO) TableName() string {
	return d.tableName
}

// Register records a new connection in its room. Registering the same connection again
// with the same room and user refreshes its TTL; with a different room or user it fails
// with ErrDuplicateConnection.
func (d *DAO) Register(ctx context.Context, connectionID, room, userID string) error {
	existing, err := d.get(ctx, connectionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	now := d.now()
	if existing != nil && !existing.Expired(now) {
		return d.refresh(ctx, *existing, room, userID)
	}

	conn := Connection{
		ConnectionID: connectionID,
		Room:         room,
		UserID:       userID,
		ConnectedAt:  now.Unix(),
		TTL:          now.Add(d.ttl).Unix(),
	}
	if err := d.put(ctx, conn, existing, now); err != nil {
		if !sundaeddb.IsConditionalCheckFailed(err) {
			return fmt.Errorf("failed to register connection %v: %w", connectionID, err)
		}

		// lost a race with a concurrent register of the same id
		existing, err := d.get(ctx, connectionID)
		if err != nil {
			return fmt.Errorf("failed to register connection %v: %w", connectionID, err)
		}
		return d.refresh(ctx, *existing, room, userID)
	}
	return nil
}

func (d *DAO) refresh(ctx context.Context, existing Connection, room, userID string) error {
	if existing.Room != room || existing.UserID != userID {
		return fmt.Errorf("connection %v already registered to room %v: %w", existing.ConnectionID, existing.Room, ErrDuplicateConnection)
	}
	return d.Touch(ctx, existing.ConnectionID)
}

// put writes both copies of conn. The connection item must be absent or expired; an
// expired predecessor's membership item is removed in the same transaction.
func (d *DAO) put(ctx context.Context, conn Connection, expired *Connection, now time.Time) error {
	primary, err := dynamodbattribute.MarshalMap(conn.Primary())
	if err != nil {
		return fmt.Errorf("failed to marshal connection %v: %w", conn.ConnectionID, err)
	}
	membership, err := dynamodbattribute.MarshalMap(conn.Membership())
	if err != nil {
		return fmt.Errorf("failed to marshal connection %v: %w", conn.ConnectionID, err)
	}

	items := []*dynamodb.TransactWriteItem{
		{
			Put: &dynamodb.Put{
				TableName:           aws.String(d.tableName),
				Item:                primary,
				ConditionExpression: aws.String("attribute_not_exists(#pk) OR #ttl <= :now"),
				ExpressionAttributeNames: map[string]*string{
					"#pk":  aws.String("pk"),
					"#ttl": aws.String("ttl"),
				},
				ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
					":now": unixValue(now),
				},
			},
		},
		{
			Put: &dynamodb.Put{
				TableName: aws.String(d.tableName),
				Item:      membership,
			},
		},
	}
	if expired != nil && expired.Room != conn.Room {
		items = append(items, &dynamodb.TransactWriteItem{
			Delete: &dynamodb.Delete{
				TableName: aws.String(d.tableName),
				Key:       itemKey(expired.Membership()),
			},
		})
	}

	_, err = d.api.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return err
}

// Deregister removes a connection. Deregistering an unknown connection is not an error.
func (d *DAO) Deregister(ctx context.Context, connectionID string) error {
	conn, err := d.get(ctx, connectionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	primary := conn.Primary()
	membership := conn.Membership()
	_, err = d.client.TransactWriteItemsWithContext(ctx,
		d.table.Delete(primary.PK).Range(primary.SK),
		d.table.Delete(membership.PK).Range(membership.SK),
	)
	if err != nil {
		return fmt.Errorf("failed to deregister connection %v: %w", connectionID, err)
	}
	return nil
}

// Get returns an active connection, or ErrNotFound if it is absent or expired.
func (d *DAO) Get(ctx context.Context, connectionID string) (*Connection, error) {
	conn, err := d.get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.Expired(d.now()) {
		return nil, fmt.Errorf("connection %v expired: %w", connectionID, ErrNotFound)
	}
	return conn, nil
}

// get returns the connection item regardless of expiry.
func (d *DAO) get(ctx context.Context, connectionID string) (*Connection, error) {
	pk, sk := connectionKey(connectionID)

	var conn Connection
	if err := d.table.Get(pk).Range(sk).ConsistentRead(true).ScanWithContext(ctx, &conn); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, fmt.Errorf("connection %v: %w", connectionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get connection %v: %w", connectionID, err)
	}
	return &conn, nil
}

// ListByRoom returns the active connections of a room. Expired connections are excluded
// even if the reaper has not deleted them yet.
func (d *DAO) ListByRoom(ctx context.Context, room string) ([]Connection, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]*string{
			"#pk": aws.String("pk"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":pk": {S: aws.String(roomPartition(room))},
		},
		ConsistentRead: aws.Bool(true),
	}

	var (
		now   = d.now()
		conns []Connection
		err   error
	)
	queryErr := d.api.QueryPagesWithContext(ctx, input, func(page *dynamodb.QueryOutput, _ bool) bool {
		var items []Connection
		if err = dynamodbattribute.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return false
		}
		for _, item := range items {
			if !item.Expired(now) {
				conns = append(conns, item)
			}
		}
		return true
	})
	if queryErr != nil {
		return nil, fmt.Errorf("failed to query connections for room %v: %w", room, queryErr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal connections for room %v: %w", room, err)
	}
	return conns, nil
}

// Touch extends the TTL of an active connection. It never revives an expired or
// deregistered connection; those return ErrNotFound.
func (d *DAO) Touch(ctx context.Context, connectionID string) error {
	conn, err := d.Get(ctx, connectionID)
	if err != nil {
		return err
	}

	now := d.now()
	update := func(c Connection) *dynamodb.TransactWriteItem {
		return &dynamodb.TransactWriteItem{
			Update: &dynamodb.Update{
				TableName:           aws.String(d.tableName),
				Key:                 itemKey(c),
				UpdateExpression:    aws.String("SET #ttl = :ttl"),
				ConditionExpression: aws.String("attribute_exists(#pk) AND #ttl > :now"),
				ExpressionAttributeNames: map[string]*string{
					"#pk":  aws.String("pk"),
					"#ttl": aws.String("ttl"),
				},
				ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
					":ttl": unixValue(now.Add(d.ttl)),
					":now": unixValue(now),
				},
			},
		}
	}

	_, err = d.api.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			update(conn.Primary()),
			update(conn.Membership()),
		},
	})
	if err != nil {
		if sundaeddb.IsConditionalCheckFailed(err) {
			return fmt.Errorf("connection %v went away while touching: %w", connectionID, ErrNotFound)
		}
		return fmt.Errorf("failed to touch connection %v: %w", connectionID, err)
	}
	return nil
}

// ScanExpired returns every item, connection and membership copies alike, whose TTL has
// elapsed at now.
func (d *DAO) ScanExpired(ctx context.Context, now time.Time) ([]Connection, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(d.tableName),
		FilterExpression: aws.String("#ttl <= :now"),
		ExpressionAttributeNames: map[string]*string{
			"#ttl": aws.String("ttl"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":now": unixValue(now),
		},
	}

	var (
		expired []Connection
		err     error
	)
	scanErr := d.api.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, _ bool) bool {
		var items []Connection
		if err = dynamodbattribute.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return false
		}
		expired = append(expired, items...)
		return true
	})
	if scanErr != nil {
		return nil, fmt.Errorf("failed to scan expired connections: %w", scanErr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal expired connections: %w", err)
	}
	return expired, nil
}

// DeleteExpired deletes a single item if its TTL has still elapsed at now. It returns false
// when the item was touched or removed in the meantime.
func (d *DAO) DeleteExpired(ctx context.Context, item Connection, now time.Time) (bool, error) {
	_, err := d.api.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 itemKey(item),
		ConditionExpression: aws.String("#ttl <= :now"),
		ExpressionAttributeNames: map[string]*string{
			"#ttl": aws.String("ttl"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":now": unixValue(now),
		},
	})
	if err != nil {
		if sundaeddb.IsConditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete expired item %v/%v: %w", item.PK, item.SK, err)
	}
	return true, nil
}

func itemKey(c Connection) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"pk": {S: aws.String(c.PK)},
		"sk": {S: aws.String(c.SK)},
	}
}

func unixValue(t time.Time) *dynamodb.AttributeValue {
	return &dynamodb.AttributeValue{N: aws.String(strconv.FormatInt(t.Unix(), 10))}
}
