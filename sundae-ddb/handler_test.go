package sundaeddb

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	sundaecli "github.com/SundaeSwap-finance/sundae-chat/sundae-cli"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/savaki/ddb"
	"github.com/tj/assert"
)

func TestHandler(t *testing.T) {
	var inserted, removed []string
	handler := NewHandler(
		sundaecli.NewService("test"),
		func(ctx context.Context, newValue map[string]*dynamodb.AttributeValue) error {
			inserted = append(inserted, aws.StringValue(newValue["pk"].S))
			return nil
		},
		nil,
		func(ctx context.Context, oldValue map[string]*dynamodb.AttributeValue) error {
			pk := aws.StringValue(oldValue["pk"].S)
			if pk == "bad" {
				return fmt.Errorf("boom")
			}
			removed = append(removed, pk)
			return nil
		},
	)

	// same shape as the records reserialized from dynamodbstreams in handleRealtime
	record := func(name, pk string) ddb.Record {
		image := "OldImage"
		if name == "INSERT" {
			image = "NewImage"
		}
		raw := fmt.Sprintf(`{"eventID":%q,"eventName":%q,"dynamodb":{%q:{"pk":{"S":%q}}}}`, pk, name, image, pk)
		var r ddb.Record
		assert.Nil(t, json.Unmarshal([]byte(raw), &r))
		return r
	}

	ctx := context.Background()
	err := handler.HandleEvent(ctx, ddb.Event{Records: []ddb.Record{
		record("INSERT", "a"),
		record("MODIFY", "a"),
		record("REMOVE", "b"),
	}})
	assert.Nil(t, err)
	assert.Equal(t, []string{"a"}, inserted)
	assert.Equal(t, []string{"b"}, removed)

	err = handler.HandleEvent(ctx, ddb.Event{Records: []ddb.Record{record("REMOVE", "bad")}})
	assert.Error(t, err)
}

func TestParseItem(t *testing.T) {
	var obj struct {
		PK  string `dynamodbav:"pk"`
		TTL int64  `dynamodbav:"ttl"`
	}
	err := ParseItem(map[string]*dynamodb.AttributeValue{
		"pk":  {S: aws.String("conn#1")},
		"ttl": {N: aws.String("123")},
	}, &obj)
	assert.Nil(t, err)
	assert.Equal(t, "conn#1", obj.PK)
	assert.EqualValues(t, 123, obj.TTL)
}
