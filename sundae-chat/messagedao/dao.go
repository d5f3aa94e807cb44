package messagedao

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	sundaeddb "github.com/SundaeSwap-finance/sundae-chat/sundae-ddb"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/oklog/ulid/v2"
	"github.com/savaki/ddb"
)

// DefaultRetention is how long messages stay visible.
const DefaultRetention = 7 * 24 * time.Hour

// UserIndex is the GSI keyed by user_id, sorted by sk.
const UserIndex = "UserIndex"

// DAO provides access to the chat messages table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
	retention time.Duration
	now       func() time.Time

	// mu guards the clock high-water mark and the ulid entropy source
	mu      sync.Mutex
	last    time.Time
	entropy io.Reader
}

type Option func(*DAO)

// WithRetention overrides DefaultRetention.
func WithRetention(retention time.Duration) Option {
	return func(d *DAO) {
		if retention > 0 {
			d.retention = retention
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(d *DAO) {
		d.now = now
	}
}

// New creates a new messages DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string, opts ...Option) *DAO {
	d := &DAO{
		table:     ddb.New(api).MustTable(tableName, Message{}),
		api:       api,
		tableName: tableName,
		retention: DefaultRetention,
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
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

// stamp returns the append time and id for a new message. Times handed out by one DAO
// never go backwards, and ids are strictly increasing within the same millisecond.
func (d *DAO) stamp() (time.Time, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC().Truncate(time.Microsecond)
	if now.Before(d.last) {
		now = d.last
	}
	d.last = now

	id := ulid.MustNew(ulid.Timestamp(now), d.entropy)
	return now, id.String()
}

// Append stores a new message. The log assigns the timestamp, id and TTL; whatever the
// caller put in those fields is ignored.
func (d *DAO) Append(ctx context.Context, msg Message) (Message, error) {
	now, id := d.stamp()

	msg.MessageID = id
	msg.Timestamp = FormatTime(now)
	msg.SK = sortKey(msg.Timestamp, msg.MessageID)
	msg.TTL = now.Add(d.retention).Unix()

	item, err := dynamodbattribute.MarshalMap(msg)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal message for room %v: %w", msg.Room, err)
	}

	_, err = d.api.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#sk)"),
		ExpressionAttributeNames: map[string]*string{
			"#sk": aws.String("sk"),
		},
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to append message to room %v: %w", msg.Room, err)
	}
	return msg, nil
}

// Get returns a single message by room and sort key.
func (d *DAO) Get(ctx context.Context, room, sk string) (*Message, error) {
	var msg Message
	if err := d.table.Get(room).Range(sk).ScanWithContext(ctx, &msg); err != nil {
		return nil, fmt.Errorf("failed to get message %v in room %v: %w", sk, room, err)
	}
	return &msg, nil
}

// QueryByRoom returns the visible messages of a room in timestamp order.
func (d *DAO) QueryByRoom(ctx context.Context, room string, opts QueryOptions) ([]Message, error) {
	names := map[string]*string{
		"#room": aws.String("room"),
		"#ttl":  aws.String("ttl"),
	}
	values := map[string]*dynamodb.AttributeValue{
		":room": {S: aws.String(room)},
		":now":  unixValue(d.now()),
	}
	keyCondition := "#room = :room"
	if !opts.Since.IsZero() {
		keyCondition += " AND #sk >= :since"
		names["#sk"] = aws.String("sk")
		values[":since"] = &dynamodb.AttributeValue{S: aws.String(FormatTime(opts.Since))}
	}

	msgs, err := d.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		KeyConditionExpression:    aws.String(keyCondition),
		FilterExpression:          aws.String("#ttl > :now"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(!opts.Descending),
	}, opts.limit())
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for room %v: %w", room, err)
	}
	return msgs, nil
}

// QueryByUser returns the visible messages of a user across rooms, in timestamp order.
func (d *DAO) QueryByUser(ctx context.Context, userID string, opts QueryOptions) ([]Message, error) {
	names := map[string]*string{
		"#user_id": aws.String("user_id"),
		"#ttl":     aws.String("ttl"),
	}
	values := map[string]*dynamodb.AttributeValue{
		":user_id": {S: aws.String(userID)},
		":now":     unixValue(d.now()),
	}
	keyCondition := "#user_id = :user_id"
	if !opts.Since.IsZero() {
		keyCondition += " AND #sk >= :since"
		names["#sk"] = aws.String("sk")
		values[":since"] = &dynamodb.AttributeValue{S: aws.String(FormatTime(opts.Since))}
	}

	msgs, err := d.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		IndexName:                 aws.String(UserIndex),
		KeyConditionExpression:    aws.String(keyCondition),
		FilterExpression:          aws.String("#ttl > :now"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(!opts.Descending),
	}, opts.limit())
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for user %v: %w", userID, err)
	}
	return msgs, nil
}

// query pages through input until limit messages passed the filter or the key range is
// exhausted. DynamoDB applies Limit before FilterExpression, hence the loop.
func (d *DAO) query(ctx context.Context, input *dynamodb.QueryInput, limit int) ([]Message, error) {
	input.Limit = aws.Int64(int64(limit))

	var (
		msgs []Message
		err  error
	)
	queryErr := d.api.QueryPagesWithContext(ctx, input, func(page *dynamodb.QueryOutput, _ bool) bool {
		var items []Message
		if err = dynamodbattribute.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return false
		}
		msgs = append(msgs, items...)
		return len(msgs) < limit
	})
	if queryErr != nil {
		return nil, queryErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// ScanExpired returns the messages whose TTL has elapsed at now.
func (d *DAO) ScanExpired(ctx context.Context, now time.Time) ([]Message, error) {
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
		expired []Message
		err     error
	)
	scanErr := d.api.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, _ bool) bool {
		var items []Message
		if err = dynamodbattribute.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return false
		}
		expired = append(expired, items...)
		return true
	})
	if scanErr != nil {
		return nil, fmt.Errorf("failed to scan expired messages: %w", scanErr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal expired messages: %w", err)
	}
	return expired, nil
}

// Delete removes messages in batches. Messages are immutable, so there is nothing to
// re-check before deleting them.
func (d *DAO) Delete(ctx context.Context, msgs ...Message) error {
	keys := make([]map[string]*dynamodb.AttributeValue, 0, len(msgs))
	for _, msg := range msgs {
		keys = append(keys, map[string]*dynamodb.AttributeValue{
			"room": {S: aws.String(msg.Room)},
			"sk":   {S: aws.String(msg.SK)},
		})
	}
	return sundaeddb.BatchDelete(ctx, d.api, d.tableName, keys)
}

func unixValue(t time.Time) *dynamodb.AttributeValue {
	return &dynamodb.AttributeValue{N: aws.String(strconv.FormatInt(t.Unix(), 10))}
}
