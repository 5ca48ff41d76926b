package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"serve-chroot/process"
)

var killAllCmd = &cobra.Command{
	Use:   "kill-all",
	Short: "Kill every display server and proxy on this machine",
	Long: `Kill every display server and proxy on this machine, whether or not a
running orchestrator started them. This is the same cleanup "serve" does at
startup.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		runner := process.ExecRunner{}
		sweep := newSweep(cfg, newLauncher(cfg, runner), runner)
		n, err := sweep.Run(context.Background())
		fmt.Fprintf(cmd.OutOrStdout(), "killed %d display server instance(s)\n", n)
		return err
	},
}

func init() {
	rootCmd.AddCommand(killAllCmd)
}
