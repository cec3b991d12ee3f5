package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/hchap1/rift/internal/node"
	"github.com/hchap1/rift/internal/protocol"
	"github.com/spf13/cobra"
)

var errNotDelivered = errors.New("not delivered")

var imagePath string

var sendCmd = &cobra.Command{
	Use:   "send <addr> [text]",
	Short: "send one message or image and wait for its confirmation",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var text string
		if len(args) == 2 {
			text = args[1]
		}
		if text == "" && imagePath == "" {
			return errors.New("nothing to send: give a text or --image")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := nodeConfig()
		if err != nil {
			return err
		}
		local, err := node.Establish(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = local.Close() }()

		var packets []protocol.Packet
		if username != "" {
			packets = append(packets, protocol.NewUsername(username))
		}
		if text != "" {
			packets = append(packets, protocol.NewMessage(text))
		}
		if imagePath != "" {
			data, err := readImage(imagePath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			packets = append(packets, protocol.NewImage(data))
		}

		return sendOnce(ctx, local, args[0], packets, cmd.OutOrStdout())
	},
}

func init() {
	sendCmd.Flags().StringVar(&imagePath, "image", "", "image file to send")
}

// sendOnce connects to addr and delivers packets in order, waiting for each
// to finish before the next.
func sendOnce(ctx context.Context, n Node, addr string, packets []protocol.Packet, out io.Writer) error {
	id, err := n.Connect(ctx, addr)
	if err != nil {
		return err
	}

	for _, pkt := range packets {
		c, err := n.Send(id, pkt)
		if err != nil {
			return err
		}

		outcome, err := c.Wait(ctx)
		if !pkt.Kind.Verifiable() {
			// Fire-and-forget: the handle only tells us the send is over.
			if err != nil && !errors.Is(err, protocol.ErrChannelDead) {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w: %w", pkt.Kind, errNotDelivered, err)
		}
		if outcome != protocol.OutcomeConfirmed {
			return fmt.Errorf("%s: %w", pkt.Kind, errNotDelivered)
		}
		fmt.Fprintf(out, "delivered %s (%d bytes) to %s\n", pkt.Kind, len(pkt.Data), addr)
	}
	return nil
}
