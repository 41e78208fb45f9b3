// Command kvstore starts a single Raft replica participating in a
// replicated key-value store (spec.md §6: "kvstore <port:int> <id:string>
// <other-id:string>+"). Process exit is via signal only; there is no
// shutdown protocol (spec.md §5, §6).
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gcooper407/kvstore/internal/server"
	"github.com/gcooper407/kvstore/internal/transport"
)

var logLevel string

func main() {
	root := &cobra.Command{
		Use:   "kvstore <port> <id> <other-id>...",
		Short: "run one replica of a Raft-replicated key-value store over UDP",
		Args:  cobra.MinimumNArgs(3),
		RunE:  run,
	}
	root.Flags().StringVar(&logLevel, "loglevel", "info", "log level: debug, info, warn, error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[0], err)
	}
	id := args[1]
	peers := args[2:]

	cfg := &log.Config{Level: logLevel}
	logger, props, err := log.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log.ReplaceGlobals(logger, props)

	trans, err := transport.Listen(port)
	if err != nil {
		log.Fatal("failed to bind transport", zap.Int("port", port), zap.Error(err))
	}
	defer trans.Close()

	srv := server.New(id, peers, trans)
	srv.Announce()

	log.Info("replica started", zap.String("id", id), zap.Int("port", port), zap.Strings("peers", peers))
	srv.Run()
	return nil
}
