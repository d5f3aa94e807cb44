package connectiondao

import (
	"context"
	"fmt"

	sundaeddb "github.com/SundaeSwap-finance/sundae-chat/sundae-ddb"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/savaki/ddb"
)

// CreateTableIfNotExists creates the connections table with on-demand billing and an
// old-image stream for the reaper. It is meant for DynamoDB local and tests; deployed
// tables are provisioned elsewhere.
func (d *DAO) CreateTableIfNotExists(ctx context.Context) error {
	err := d.table.CreateTableIfNotExists(ctx,
		ddb.WithBillingMode(dynamodb.BillingModePayPerRequest),
		ddb.WithStreamSpecification(dynamodb.StreamViewTypeOldImage),
	)
	if err != nil {
		return fmt.Errorf("failed to create connections table: %w", err)
	}
	return sundaeddb.WaitForTable(ctx, d.api, d.tableName)
}

// DeleteTableIfExists drops the connections table.
func (d *DAO) DeleteTableIfExists(ctx context.Context) error {
	if err := d.table.DeleteTableIfExists(ctx); err != nil {
		return fmt.Errorf("failed to delete connections table: %w", err)
	}
	return nil
}
