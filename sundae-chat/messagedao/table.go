package messagedao

import (
	"context"
	"fmt"

	sundaeddb "github.com/SundaeSwap-finance/sundae-chat/sundae-ddb"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/savaki/ddb"
)

// CreateTableIfNotExists creates the messages table along with UserIndex.
func (d *DAO) CreateTableIfNotExists(ctx context.Context) error {
	if err := d.table.CreateTableIfNotExists(ctx, ddb.WithBillingMode(dynamodb.BillingModePayPerRequest)); err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}
	return sundaeddb.WaitForTable(ctx, d.api, d.tableName)
}

// DeleteTableIfExists drops the messages table.
func (d *DAO) DeleteTableIfExists(ctx context.Context) error {
	if err := d.table.DeleteTableIfExists(ctx); err != nil {
		return fmt.Errorf("failed to delete messages table: %w", err)
	}
	return nil
}
