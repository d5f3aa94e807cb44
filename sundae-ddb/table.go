package sundaeddb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// WaitForTable blocks until tableName is active. ddb.Table.CreateTableIfNotExists returns
// as soon as the create call is accepted, before the table can take writes.
func WaitForTable(ctx context.Context, api dynamodbiface.DynamoDBAPI, tableName string) error {
	input := &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}
	if err := api.WaitUntilTableExistsWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed waiting for table %v: %w", tableName, err)
	}
	return nil
}
