package connectiondao

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
}

func (m *mockTableAPI) CreateTableWithContext(_ aws.Context, input *dynamodb.CreateTableInput, _ ...request.Option) (*dynamodb.CreateTableOutput, error) {
	m.created = input
	return &dynamodb.CreateTableOutput{}, nil
}

func (m *mockTableAPI) WaitUntilTableExistsWithContext(aws.Context, *dynamodb.DescribeTableInput, ...request.WaiterOption) error {
	return nil
}

func TestCreateTableIfNotExists(t *testing.T) {
	api := &mockTableAPI{}
	dao := New(api, "connections")

	err := dao.CreateTableIfNotExists(context.Background())
	assert.Nil(t, err)

	input := api.created
	assert.NotNil(t, input)
	assert.Equal(t, "connections", aws.StringValue(input.TableName))
	assert.Len(t, input.KeySchema, 2)
	assert.Equal(t, "pk", aws.StringValue(input.KeySchema[0].AttributeName))
	assert.Equal(t, "sk", aws.StringValue(input.KeySchema[1].AttributeName))
	assert.Len(t, input.GlobalSecondaryIndexes, 0)
	assert.True(t, aws.BoolValue(input.StreamSpecification.StreamEnabled))
	assert.Equal(t, dynamodb.StreamViewTypeOldImage, aws.StringValue(input.StreamSpecification.StreamViewType))
}
