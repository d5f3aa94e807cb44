package messagedao

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/tj/assert"
)

type mockTableAPI struct {
	dynamodbiface.DynamoDBAPI
	created *dynamodb.CreateTableInput
	waited  string
}

func (m *mockTableAPI) CreateTableWithContext(_ aws.Context, input *dynamodb.CreateTableInput, _ ...request.Option) (*dynamodb.CreateTableOutput, error) {
	m.created = input
	return &dynamodb.CreateTableOutput{}, nil
}

func (m *mockTableAPI) WaitUntilTableExistsWithContext(_ aws.Context, input *dynamodb.DescribeTableInput, _ ...request.WaiterOption) error {
	m.waited = aws.StringValue(input.TableName)
	return nil
}

func keySchema(elements []*dynamodb.KeySchemaElement) map[string]string {
	out := map[string]string{}
	for _, e := range elements {
		out[aws.StringValue(e.KeyType)] = aws.StringValue(e.AttributeName)
	}
	return out
}

func TestCreateTableIfNotExists(t *testing.T) {
	api := &mockTableAPI{}
	dao := New(api, "messages")

	err := dao.CreateTableIfNotExists(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, "messages", api.waited)

	input := api.created
	assert.NotNil(t, input)
	assert.Equal(t, dynamodb.BillingModePayPerRequest, aws.StringValue(input.BillingMode))
	assert.Equal(t, map[string]string{"HASH": "room", "RANGE": "sk"}, keySchema(input.KeySchema))

	assert.Len(t, input.GlobalSecondaryIndexes, 1)
	gsi := input.GlobalSecondaryIndexes[0]
	assert.Equal(t, UserIndex, aws.StringValue(gsi.IndexName))
	assert.Equal(t, map[string]string{"HASH": "user_id", "RANGE": "sk"}, keySchema(gsi.KeySchema))
	assert.Equal(t, dynamodb.ProjectionTypeAll, aws.StringValue(gsi.Projection.ProjectionType))
}
