package cli

import (
	"github.com/spf13/cobra"

	"github.com/maxdollinger/unistage/internal/boot"
	"github.com/maxdollinger/unistage/pkg/utils"
)

func bootCommand(a *app) *cobra.Command {
	var (
		noStage       bool
		noList        bool
		noDemo        bool
		paused        bool
		followConsole bool
		iterations    int
	)

	cmd := &cobra.Command{
		Use:   "boot",
		Short: "stage the guest, create the domain and run the channel demo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			opts := boot.Options{
				EnableStaging:     !noStage,
				EnableListing:     !noList,
				EnableChannelDemo: !noDemo,
				StartDomain:       !paused,
				DryRun:            a.flags.dryRun,
			}
			if cmd.Flags().Changed("iterations") {
				a.cfg.Channel.Iterations = iterations
			}

			options, cleanup, err := boot.Wire(ctx, a.cfg, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			options = append(options, boot.WithOutput(out), boot.WithVersion(a.version))
			code := boot.New(a.cfg, opts, options...).Run(ctx)
			if code != 0 {
				return &exitError{code: code}
			}

			if followConsole && a.cfg.Domain.Console != "" && !opts.DryRun {
				return utils.TailUntilIdle(ctx, a.cfg.Domain.Console, out, idleConsole, pollConsole)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noStage, "no-stage", false, "skip staging the guest assets")
	cmd.Flags().BoolVar(&noList, "no-list", false, "do not print the staged directory")
	cmd.Flags().BoolVar(&noDemo, "no-demo", false, "skip the channel demo")
	cmd.Flags().BoolVar(&paused, "paused", false, "leave the domain paused after creation")
	cmd.Flags().BoolVar(&followConsole, "follow-console", false, "print the guest console log until it goes idle")
	cmd.Flags().IntVar(&iterations, "iterations", 100, "channel demo iterations")

	return cmd
}
