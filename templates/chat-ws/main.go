package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	sundaechat "github.com/SundaeSwap-finance/sundae-chat/sundae-chat"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/connectiondao"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/localgw"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/messagedao"
	sundaecli "github.com/SundaeSwap-finance/sundae-chat/sundae-cli"
	sundaeddb "github.com/SundaeSwap-finance/sundae-chat/sundae-ddb"
	sundaerest "github.com/SundaeSwap-finance/sundae-chat/sundae-rest"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/urfave/cli/v2"
)

var service = sundaecli.NewService("chat-ws")

func main() {
	flags := append(sundaecli.CommonFlags, sundaecli.PortFlag(8080))
	flags = append(flags, sundaeddb.DDBFlags...)
	flags = append(flags, sundaechat.ChatFlags...)

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

	var (
		env         = sundaecli.CommonOpts.Env
		connections = connectiondao.Build(api, env, connectiondao.WithTTL(sundaechat.ChatOpts.ConnectionTTL))
		messages    = messagedao.Build(api, env, messagedao.WithRetention(sundaechat.ChatOpts.MessageRetention))
		dispatcher  = &sundaechat.Dispatcher{
			Registry:    connections,
			Log:         messages,
			Logger:      logger,
			Concurrency: sundaechat.ChatOpts.Concurrency,
			PushTimeout: sundaechat.ChatOpts.PushTimeout,
		}
		handler = &sundaechat.Handler{
			Dispatcher: dispatcher,
			Logger:     logger,
		}
	)

	if !sundaecli.CommonOpts.Console {
		dispatcher.Metrics = sundaecli.NewMetrics(service, cloudwatch.New(sess))
		dispatcher.Push = sundaechat.NewGatewayPusher(sundaechat.ChatOpts.GatewayEndpoint)
		return handler.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sundaeddb.DDBOpts.Endpoint != "" {
		if err := connections.CreateTableIfNotExists(ctx); err != nil {
			return err
		}
		if err := messages.CreateTableIfNotExists(ctx); err != nil {
			return err
		}
	}

	gateway := localgw.New(logger)
	gateway.Handler = handler.HandleEvent
	dispatcher.Push = gateway

	return sundaerest.Listen(ctx, logger, gateway.Router())
}
