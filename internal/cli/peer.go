package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/maxdollinger/unistage/internal/demo"
	"github.com/maxdollinger/unistage/pkg/vchan"
)

// peerCommand plays the guest end of the channel demo: it connects to the
// socket the boot sequence listens on and echoes every message back.
func peerCommand(a *app) *cobra.Command {
	var domid int

	cmd := &cobra.Command{
		Use:   "peer",
		Short: "connect to the demo channel as the guest and echo messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("domid") {
				domid = a.cfg.Channel.DomID
			}

			logger := slog.Default().With("domid", domid, "channel", a.cfg.Channel.Name)
			transport := vchan.NewUnixTransport(a.cfg.Channel.Dir)
			logger.InfoContext(ctx, "connecting", "socket", transport.SocketPath(domid, a.cfg.Channel.Name))

			ch, err := vchan.Connect(ctx, transport, domid, a.cfg.Channel.Name, vchan.Blocking, vchan.WithLogger(logger))
			if err != nil {
				return err
			}
			defer ch.Close()

			n, err := demo.Echo(ctx, ch)
			fmt.Fprintf(cmd.OutOrStdout(), "answered %d messages\n", n)
			return err
		},
	}

	cmd.Flags().IntVar(&domid, "domid", 1, "domain id of the channel to join")
	return cmd
}
