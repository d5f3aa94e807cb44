package sundaecron

import (
	"context"
	"errors"
	"testing"

	sundaecli "github.com/SundaeSwap-finance/sundae-chat/sundae-cli"
	"github.com/aws/aws-lambda-go/events"
	"github.com/tj/assert"
)

func TestRunOnce(t *testing.T) {
	var calls int
	handler := NewHandler(sundaecli.NewService("test"), func(ctx context.Context) error {
		calls++
		return nil
	})

	err := handler.RunOnce(context.Background(), events.CloudWatchEvent{ID: "abc"})
	assert.Nil(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunLocalStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	handler := NewHandler(sundaecli.NewService("test"), func(ctx context.Context) error {
		return boom
	})

	err := handler.runLocal()
	assert.True(t, errors.Is(err, boom))
}
