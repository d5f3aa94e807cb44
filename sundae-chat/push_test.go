package sundaechat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
	"github.com/tj/assert"
)

type mockGateway struct {
	apigatewaymanagementapiiface.ApiGatewayManagementApiAPI

	mu      sync.Mutex
	posted  map[string][]byte
	deleted []string
	err     error
}

func (m *mockGateway) PostToConnectionWithContext(_ aws.Context, input *apigatewaymanagementapi.PostToConnectionInput, _ ...request.Option) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.posted[aws.StringValue(input.ConnectionId)] = input.Data
	return &apigatewaymanagementapi.PostToConnectionOutput{}, nil
}

func (m *mockGateway) DeleteConnectionWithContext(_ aws.Context, input *apigatewaymanagementapi.DeleteConnectionInput, _ ...request.Option) (*apigatewaymanagementapi.DeleteConnectionOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.deleted = append(m.deleted, aws.StringValue(input.ConnectionId))
	return &apigatewaymanagementapi.DeleteConnectionOutput{}, nil
}

func newTestPusher(endpoint string) (*GatewayPusher, map[string]*mockGateway) {
	gateways := map[string]*mockGateway{}
	pusher := &GatewayPusher{
		Endpoint: endpoint,
		NewClient: func(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
			gw := &mockGateway{posted: map[string][]byte{}}
			gateways[endpoint] = gw
			return gw
		},
	}
	return pusher, gateways
}

func TestGatewayPusher(t *testing.T) {
	pusher, gateways := newTestPusher("https://default/prod")

	err := pusher.Push(context.Background(), "c1", []byte("a"))
	assert.Nil(t, err)
	assert.Equal(t, []byte("a"), gateways["https://default/prod"].posted["c1"])

	ctx := WithEndpoint(context.Background(), "https://other/stage")
	err = pusher.Push(ctx, "c2", []byte("b"))
	assert.Nil(t, err)
	assert.Equal(t, []byte("b"), gateways["https://other/stage"].posted["c2"])

	// clients are reused
	err = pusher.Push(ctx, "c3", []byte("c"))
	assert.Nil(t, err)
	assert.Len(t, gateways, 2)
	assert.Len(t, gateways["https://other/stage"].posted, 2)

	err = pusher.Close(ctx, "c2")
	assert.Nil(t, err)
	assert.Equal(t, []string{"c2"}, gateways["https://other/stage"].deleted)
}

func TestGatewayPusherClassifiesErrors(t *testing.T) {
	testCases := map[string]struct {
		err  error
		want error
	}{
		"gone by status": {
			err:  awserr.NewRequestFailure(awserr.New("Unknown", "gone", nil), http.StatusGone, "req"),
			want: ErrDeliveryGone,
		},
		"gone by code": {
			err:  awserr.New(apigatewaymanagementapi.ErrCodeGoneException, "gone", nil),
			want: ErrDeliveryGone,
		},
		"throttled": {
			err:  awserr.NewRequestFailure(awserr.New("LimitExceededException", "slow down", nil), http.StatusTooManyRequests, "req"),
			want: ErrDeliveryTransient,
		},
		"timeout": {
			err:  context.DeadlineExceeded,
			want: ErrDeliveryTransient,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			pusher, gateways := newTestPusher("https://default/prod")
			assert.Nil(t, pusher.Push(context.Background(), "warmup", nil))
			gateways["https://default/prod"].err = tc.err

			err := pusher.Push(context.Background(), "c1", []byte("x"))
			assert.True(t, errors.Is(err, tc.want))

			if tc.want == ErrDeliveryGone {
				assert.Nil(t, pusher.Close(context.Background(), "c1"))
			}
		})
	}
}

func TestGatewayPusherWithoutEndpoint(t *testing.T) {
	pusher := NewGatewayPusher("")
	err := pusher.Push(context.Background(), "c1", nil)
	assert.True(t, errors.Is(err, ErrDeliveryTransient))
}
