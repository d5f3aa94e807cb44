package sundaeddb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// BatchSize is the DynamoDB limit on items per BatchWriteItem call
const BatchSize = 25

const maxBatchRetries = 5

// BatchDelete removes the given keys from tableName, in chunks of BatchSize, retrying
// unprocessed items with exponential backoff. A failed chunk does not stop the remaining
// chunks; all chunk errors are returned joined.
func BatchDelete(ctx context.Context, api dynamodbiface.DynamoDBAPI, tableName string, keys []map[string]*dynamodb.AttributeValue) error {
	var errs []error
	for i := 0; i < len(keys); i += BatchSize {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("batch delete on %v stopped with %d keys left: %w", tableName, len(keys)-i, err))
			break
		}

		end := i + BatchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := deleteChunk(ctx, api, tableName, keys[i:end]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deleteChunk(ctx context.Context, api dynamodbiface.DynamoDBAPI, tableName string, chunk []map[string]*dynamodb.AttributeValue) error {
	writeRequests := make([]*dynamodb.WriteRequest, len(chunk))
	for j, key := range chunk {
		writeRequests[j] = &dynamodb.WriteRequest{
			DeleteRequest: &dynamodb.DeleteRequest{Key: key},
		}
	}

	unprocessed := map[string][]*dynamodb.WriteRequest{
		tableName: writeRequests,
	}

	for attempt := 0; attempt < maxBatchRetries; attempt++ {
		output, err := api.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: unprocessed,
		})
		if err != nil {
			return fmt.Errorf("failed to batch delete from %v: %w", tableName, err)
		}
		if len(output.UnprocessedItems) == 0 {
			return nil
		}
		unprocessed = output.UnprocessedItems
		if attempt == maxBatchRetries-1 {
			break
		}

		backoff := time.Duration(1<<attempt) * 100 * time.Millisecond
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context cancelled during batch delete retry on %v: %w", tableName, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("failed to delete all items from %v: %d items unprocessed after %d retries", tableName, len(unprocessed[tableName]), maxBatchRetries)
}
