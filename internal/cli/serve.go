package cli

import (
	"bufio"
	"context"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hchap1/rift/internal/node"
	"github.com/hchap1/rift/internal/relay"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start an interactive chat node",
	Long: `Starts a node and reads commands from stdin:

  /connect <addr>   dial another node and open a chat with it
  /use <id>         switch the open chat to connection <id>
  /peers            list connections
  /name <name>      set the username announced to peers
  /image <path>     send an image file to the open chat
  /quit             exit

Any other line is sent as a text message to the open chat.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func serve(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, err := nodeConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	local, err := node.Establish(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = local.Close() }()

	session := NewSession(local, out, username)
	session.out.Printf("* listening on %s", local.Addr())

	events := local.Events()
	packets := local.Packets()
	defer events.Unsubscribe()
	defer packets.Unsubscribe()

	eventRelay := relay.New(events.C(), session.Event)
	packetRelay := relay.New(packets.C(), session.Packet)
	defer eventRelay.Close()
	defer packetRelay.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for line := range eventRelay.All(ctx) {
			session.out.Printf("%s", line)
		}
	}()
	go func() {
		defer wg.Done()
		for line := range packetRelay.All(ctx) {
			session.out.Printf("%s", line)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			more, err := session.Handle(ctx, line)
			if err != nil {
				session.out.Printf("! %v", err)
			}
			if !more {
				break loop
			}
		case <-ctx.Done():
			break loop
		}
	}

	session.Wait()
	cancel()
	wg.Wait()
	return nil
}
