package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/graphstore/internal/config"
	"github.com/xkilldash9x/graphstore/internal/service"
)

type providerView struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
	Order  int    `json:"order"`
}

func newProvidersCmd(factory service.ComponentFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Print the bound storage providers in dispatch order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, factory, func(ctx context.Context, _ *config.Config, c *service.Components) error {
				infos := c.Registry.Providers()
				out := make([]providerView, len(infos))
				for i, info := range infos {
					out[i] = providerView{Name: info.Name, Weight: info.Weight, Order: i}
				}
				return printJSON(cmd, out)
			})
		},
	}
}
