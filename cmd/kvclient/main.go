// Command kvclient is a minimal interactive/scripted client for exercising
// a running kvstore cluster (SPEC_FULL.md §6): it sends get/put datagrams
// to a chosen replica and prints the ok/redirect response. Not part of
// the Raft core; a convenience counterpart to cmd/kvstore for manual and
// end-to-end testing.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"

	"github.com/gcooper407/kvstore/internal/message"
	"github.com/gcooper407/kvstore/internal/transport"
)

func main() {
	root := &cobra.Command{
		Use:   "kvclient <port> <id> <replica-id>",
		Short: "send get/put commands to a kvstore replica and print replies",
		Args:  cobra.ExactArgs(3),
		RunE:  run,
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.Annotatef(err, "invalid port %q", args[0])
	}
	id := args[1]
	replica := args[2]

	trans, err := transport.Listen(port)
	if err != nil {
		return errors.Annotate(err, "connect to cluster")
	}
	defer trans.Close()

	fmt.Fprintf(os.Stderr, "commands: get <key> | put <key> <value>\n")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		mid := uuid.NewString()
		switch strings.ToLower(fields[0]) {
		case "get":
			if len(fields) != 2 {
				fmt.Fprintln(os.Stderr, "usage: get <key>")
				continue
			}
			trans.Send(message.Message{Src: id, Dst: replica, Type: message.Get, MID: mid, Key: fields[1]})
		case "put":
			if len(fields) != 3 {
				fmt.Fprintln(os.Stderr, "usage: put <key> <value>")
				continue
			}
			trans.Send(message.Message{Src: id, Dst: replica, Type: message.Put, MID: mid, Key: fields[1], Value: fields[2]})
		default:
			fmt.Fprintln(os.Stderr, "unknown command")
			continue
		}

		for {
			resp := trans.ReceiveAll()
			if len(resp) == 0 {
				continue
			}
			for _, m := range resp {
				switch m.Type {
				case message.Ok:
					fmt.Printf("ok value=%q\n", m.Value)
				case message.Redirect:
					fmt.Printf("redirect leader=%s\n", m.Leader)
					replica = m.Leader
				default:
					fmt.Printf("unexpected reply: %+v\n", m)
				}
			}
			break
		}
	}
	return scanner.Err()
}
