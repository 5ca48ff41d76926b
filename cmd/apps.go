package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"serve-chroot/apps"
	"serve-chroot/logger"
)

var withIcons bool

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Print the discovered desktop applications as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		directory := apps.NewDirectory(cfg.Apps.Dirs, apps.IconResolver{
			Theme: cfg.Apps.IconTheme,
			Size:  cfg.Apps.IconSize,
			Dirs:  cfg.Apps.IconDirs,
		}, apps.WithLogger(logger.Component("apps")))
		if err := directory.Load(); err != nil {
			return err
		}

		list := directory.List()
		if !withIcons {
			for i := range list {
				list[i].Icon = ""
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	},
}

func init() {
	rootCmd.AddCommand(appsCmd)
	appsCmd.Flags().BoolVar(&withIcons, "icons", false, "include base64 icon data")
}
