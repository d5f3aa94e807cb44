package reaper

import (
	sundaecli "github.com/SundaeSwap-finance/sundae-chat/sundae-cli"
	"github.com/urfave/cli/v2"
)

var ReaperOpts struct {
	Stream       bool
	CloseExpired bool
}

var ReaperFlags = []cli.Flag{
	sundaecli.BoolFlag("stream", "react to the connections table stream instead of sweeping", &ReaperOpts.Stream),
	sundaecli.BoolFlag("close-expired", "close expired connections at the gateway", &ReaperOpts.CloseExpired),
}
