package main

import (
	"fmt"
	"log"
	"os"

	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/connectiondao"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/history"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/messagedao"
	sundaecli "github.com/SundaeSwap-finance/sundae-chat/sundae-cli"
	sundaeddb "github.com/SundaeSwap-finance/sundae-chat/sundae-ddb"
	sundaegql "github.com/SundaeSwap-finance/sundae-chat/sundae-gql"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/urfave/cli/v2"
)

var service = sundaecli.NewSubpathService("history")

func main() {
	flags := append(sundaecli.CommonFlags, sundaecli.PortFlag(5001))
	flags = append(flags, sundaeddb.DDBFlags...)

	app := sundaecli.App(service, action, flags...)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(c *cli.Context) error {
	sess, err := session.NewSession(aws.NewConfig())
	if err != nil {
		return fmt.Errorf("unable to create aws session: %w", err)
	}
	api, err := sundaeddb.DynamoDBAPI(sess)
	if err != nil {
		return err
	}

	env := sundaecli.CommonOpts.Env
	resolver := history.New(
		sundaegql.NewConfig(service),
		messagedao.Build(api, env),
		connectiondao.Build(api, env),
	)
	return sundaegql.Webserver(c.Context, resolver)
}
