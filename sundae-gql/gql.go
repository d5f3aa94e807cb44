// Package sundaegql provides GraphQL server utilities with built-in CORS, logging
// middleware, common scalar types and schema introspection controls.
package sundaegql

import (
	sundaecli "github.com/SundaeSwap-finance/sundae-chat/sundae-cli"
)

func AllowIntrospection() bool {
	return sundaecli.CommonOpts.Network != "mainnet" || sundaecli.CommonOpts.Console
}

type Resolver interface {
	Schema() string
	Config() *BaseConfig
}
