package sundaechat

import (
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-chat/sundae-cli"
	"github.com/urfave/cli/v2"
)

var ChatOpts struct {
	ConnectionTTL    time.Duration
	MessageRetention time.Duration
	Concurrency      int
	PushTimeout      time.Duration
	GatewayEndpoint  string
}

var ChatFlags = []cli.Flag{
	sundaecli.DurationFlag("connection-ttl", "how long a connection stays registered without activity", &ChatOpts.ConnectionTTL, 24*time.Hour),
	sundaecli.DurationFlag("message-retention", "how long messages stay in the log", &ChatOpts.MessageRetention, 7*24*time.Hour),
	sundaecli.IntFlag("fan-out-concurrency", "max concurrent pushes per message", &ChatOpts.Concurrency, DefaultConcurrency),
	sundaecli.DurationFlag("push-timeout", "timeout of a single push", &ChatOpts.PushTimeout, DefaultPushTimeout),
	sundaecli.StringFlag("gateway-endpoint", "API Gateway management endpoint, when not taken from the event", &ChatOpts.GatewayEndpoint),
}
