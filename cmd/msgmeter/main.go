// Command msgmeter measures one-way message throughput and latency between a
// sender and a receiver over a pluggable protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/torosent/msgmeter/internal/config"
	"github.com/torosent/msgmeter/internal/transport/memtransport"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return newApp(os.Stdout).execute(ctx, args)
}

// app holds what the subcommands share. The memory network lets a receive
// and a send in the same process reach each other.
type app struct {
	out    io.Writer
	memory *memtransport.Network
}

func newApp(out io.Writer) *app {
	return &app{out: out, memory: memtransport.New(memtransport.Options{})}
}

func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if errors.Is(err, config.ErrHelpRequested) {
		return nil
	}
	return err
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "msgmeter",
		Short:         "Message throughput and latency harness",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return config.ErrHelpRequested
		},
	}
	root.SetOut(a.out)
	root.AddCommand(a.sendCommand(), a.receiveCommand(), a.aggregateCommand())
	return root
}
