package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	sundaechat "github.com/SundaeSwap-finance/sundae-chat/sundae-chat"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/connectiondao"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/messagedao"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/reaper"
	sundaecli "github.com/SundaeSwap-finance/sundae-chat/sundae-cli"
	sundaecron "github.com/SundaeSwap-finance/sundae-chat/sundae-cron"
	sundaeddb "github.com/SundaeSwap-finance/sundae-chat/sundae-ddb"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/urfave/cli/v2"
)

var service = sundaecli.NewService("chat-reaper")

var opts struct {
	Interval time.Duration
}

func main() {
	flags := append(sundaecli.CommonFlags, sundaeddb.DDBFlags...)
	flags = append(flags, reaper.ReaperFlags...)
	flags = append(flags,
		sundaecli.StringFlag("gateway-endpoint", "API Gateway management endpoint used to close expired connections", &sundaechat.ChatOpts.GatewayEndpoint),
		sundaecli.DurationFlag("interval", "time between sweeps in console mode; 0 sweeps once", &opts.Interval, 0),
	)

	app := sundaecli.App(service, action, flags...)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	logger := sundaecli.Logger(service)

	sess, err := session.NewSession(aws.NewConfig())
	if err != nil {
		return fmt.Errorf("unable to create aws session: %w", err)
	}
	api, err := sundaeddb.DynamoDBAPI(sess)
	if err != nil {
		return err
	}

	env := sundaecli.CommonOpts.Env
	r := &reaper.Reaper{
		Connections: connectiondao.Build(api, env),
		Messages:    messagedao.Build(api, env),
		Logger:      logger,
		Dry:         sundaecli.CommonOpts.Dry,
	}
	if reaper.ReaperOpts.CloseExpired && sundaechat.ChatOpts.GatewayEndpoint != "" {
		r.Closer = sundaechat.NewGatewayPusher(sundaechat.ChatOpts.GatewayEndpoint)
	}
	if !sundaecli.CommonOpts.Console {
		r.Metrics = sundaecli.NewMetrics(service, cloudwatch.New(sess))
	}

	if reaper.ReaperOpts.Stream {
		if sundaeddb.DDBOpts.TableName == "" {
			sundaeddb.DDBOpts.TableName = connectiondao.TableName(env)
		}
		handler := sundaeddb.NewHandler(service, nil, nil, r.OnRemove)
		return handler.Start()
	}

	handler := sundaecron.NewHandler(service, func(ctx context.Context) error {
		_, err := r.Sweep(ctx)
		return err
	})
	handler.Interval = opts.Interval
	return handler.Start()
}
