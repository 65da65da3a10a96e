package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/graphstore/internal/config"
	"github.com/xkilldash9x/graphstore/internal/service"
)

func newBackupCmd(factory service.ComponentFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <dir>",
		Short: "Export every readable graph into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, factory, func(ctx context.Context, _ *config.Config, c *service.Components) error {
				m, err := c.Backup.Export(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, m)
			})
		},
	}
}

func newRestoreCmd(factory service.ComponentFactory) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "restore <dir>",
		Short: "Recreate the graphs of a backup directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, factory, func(ctx context.Context, _ *config.Config, c *service.Components) error {
				m, err := c.Backup.Restore(ctx, args[0], replace)
				if err != nil {
					return err
				}
				return printJSON(cmd, m)
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "delete existing graphs of the same name first")
	return cmd
}
