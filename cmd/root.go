// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/internal/access"
	"github.com/xkilldash9x/graphstore/internal/config"
	"github.com/xkilldash9x/graphstore/internal/observability"
	"github.com/xkilldash9x/graphstore/internal/service"
)

type contextKey string

const configKey contextKey = "config"

// Execute runs the root command with the production component factory.
func Execute(ctx context.Context) error {
	err := NewRootCommand(service.NewComponentFactory()).ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// NewRootCommand builds a fresh command tree. Subcommands that need a store
// build their components with factory.
func NewRootCommand(factory service.ComponentFactory) *cobra.Command {
	var cfgFile string
	var grants []string

	rootCmd := &cobra.Command{
		Use:           "graphstore",
		Short:         "graphstore manages named RDF graphs across pluggable storage backends.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "graphstore"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting graphstore", zap.String("version", Version), zap.String("command", cmd.Name()))

			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			if len(grants) > 0 {
				set, err := parseGrants(grants)
				if err != nil {
					return err
				}
				ctx = access.WithGrants(ctx, set)
			}
			cmd.SetContext(ctx)
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./graphstore.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override logger.level")
	rootCmd.PersistentFlags().StringArrayVar(&grants, "grant", nil,
		`act with these capabilities instead of the configured defaults, e.g. --grant "graph read http://example.org/*"`)

	rootCmd.AddCommand(newGraphsCmd(factory))
	rootCmd.AddCommand(newProvidersCmd(factory))
	rootCmd.AddCommand(newMatchCmd())
	rootCmd.AddCommand(newBackupCmd(factory))
	rootCmd.AddCommand(newRestoreCmd(factory))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// initializeConfig reads the config file, if any, and binds the flags that
// override configuration keys.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.graphstore")
		v.SetConfigName("graphstore")
		v.SetConfigType("yaml")
	}

	if flag := cmd.Flags().Lookup("log-level"); flag != nil && flag.Changed {
		if err := v.BindPFlag("logger.level", flag); err != nil {
			return err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}
	return nil
}

func parseGrants(grants []string) (*access.GrantSet, error) {
	set := access.NewGrantSet()
	for _, g := range grants {
		c, err := access.ParseCapability(g)
		if err != nil {
			return nil, fmt.Errorf("invalid --grant %q: %w", g, err)
		}
		set.Grant(c)
	}
	return set, nil
}

func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// withComponents builds the components for the loaded configuration, runs fn
// and shuts them down again.
func withComponents(cmd *cobra.Command, factory service.ComponentFactory, fn func(ctx context.Context, cfg *config.Config, c *service.Components) error) error {
	ctx := cmd.Context()
	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}
	components, err := factory.Create(ctx, cfg, observability.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()
	return fn(ctx, cfg, components)
}

// lockContext bounds a wait for a graph lock by registry.lock_timeout.
func lockContext(ctx context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	if cfg.Registry.LockTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.Registry.LockTimeout)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitCapabilities(values []string) ([]access.Capability, error) {
	out := make([]access.Capability, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		c, err := access.ParseCapability(v)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
