package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"github.com/matthewbaird/desk/internal/cli"
	"github.com/matthewbaird/desk/internal/rpc"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd()
	// glog registers on the standard flag set; expose it through cobra.
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	_ = flag.CommandLine.Parse(nil)

	err := root.ExecuteContext(ctx)
	glog.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", rpc.Describe(err))
		os.Exit(1)
	}
}
