package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
	"github.com/xkilldash9x/graphstore/internal/codec"
	"github.com/xkilldash9x/graphstore/internal/config"
	"github.com/xkilldash9x/graphstore/internal/graph"
	"github.com/xkilldash9x/graphstore/internal/observability"
	"github.com/xkilldash9x/graphstore/internal/service"
)

func newGraphsCmd(factory service.ComponentFactory) *cobra.Command {
	graphsCmd := &cobra.Command{
		Use:   "graphs",
		Short: "List, create, inspect and modify named graphs",
	}
	graphsCmd.AddCommand(
		newGraphsListCmd(factory),
		newGraphsCreateCmd(factory),
		newGraphsDeleteCmd(factory),
		newGraphsShowCmd(factory),
		newGraphsImportCmd(factory),
		newGraphsWatchCmd(factory),
		newGraphsPermissionsCmd(factory),
	)
	return graphsCmd
}

func newGraphsListCmd(factory service.ComponentFactory) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the names of the graphs the caller can read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, factory, func(ctx context.Context, _ *config.Config, c *service.Components) error {
				var names []schemas.IRI
				var err error
				switch kind {
				case "all":
					names, err = c.Registry.ListGraphNames(ctx)
				case "mutable":
					names, err = c.Registry.ListMutableGraphs(ctx)
				case "immutable":
					names, err = c.Registry.ListImmutableGraphs(ctx)
				default:
					return fmt.Errorf("unknown --kind %q (want all, mutable or immutable)", kind)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, names)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "all", "all, mutable or immutable")
	return cmd
}

func newGraphsCreateCmd(factory service.ComponentFactory) *cobra.Command {
	var immutable bool
	var from string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty graph, or one holding the triples of --from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := schemas.IRI(args[0])
			var triples []schemas.Triple
			if from != "" {
				var err error
				if triples, err = readTriples(from); err != nil {
					return err
				}
			}
			return withComponents(cmd, factory, func(ctx context.Context, cfg *config.Config, c *service.Components) error {
				if immutable {
					g, err := c.Registry.CreateImmutableGraph(ctx, name, slices.Values(triples))
					if err != nil {
						return err
					}
					return printJSON(cmd, graphSummary{Name: name, Immutable: true, Triples: g.Size()})
				}
				lg, err := c.Registry.CreateGraph(ctx, name)
				if err != nil {
					return err
				}
				added, err := addTriples(ctx, cfg, lg, triples)
				if err != nil {
					return err
				}
				return printJSON(cmd, graphSummary{Name: name, Triples: added})
			})
		},
	}
	cmd.Flags().BoolVar(&immutable, "immutable", false, "create an immutable graph")
	cmd.Flags().StringVar(&from, "from", "", "file whose triples seed the graph (.nt, .nq, .jsonld)")
	return cmd
}

func newGraphsDeleteCmd(factory service.ComponentFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, factory, func(ctx context.Context, _ *config.Config, c *service.Components) error {
				if err := c.Registry.DeleteGraph(ctx, schemas.IRI(args[0])); err != nil {
					return err
				}
				return printJSON(cmd, map[string]string{"deleted": args[0]})
			})
		},
	}
}

func newGraphsShowCmd(factory service.ComponentFactory) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Serialize a graph to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, factory, func(ctx context.Context, _ *config.Config, c *service.Components) error {
				g, err := c.Registry.GetGraph(ctx, schemas.IRI(args[0]))
				if err != nil {
					return err
				}
				w := bufio.NewWriter(cmd.OutOrStdout())
				if err := codec.Serialize(w, g, format, nil); err != nil {
					return err
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", codec.MediaTypeNTriples, "output media type")
	return cmd
}

func newGraphsImportCmd(factory service.ComponentFactory) *cobra.Command {
	var create bool
	cmd := &cobra.Command{
		Use:   "import <name> <file>",
		Short: "Add the triples of a file to a mutable graph in one commit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := schemas.IRI(args[0])
			triples, err := readTriples(args[1])
			if err != nil {
				return err
			}
			return withComponents(cmd, factory, func(ctx context.Context, cfg *config.Config, c *service.Components) error {
				lg, err := c.Registry.GetMutableGraph(ctx, name)
				if create && errors.Is(err, schemas.ErrNotFound) {
					lg, err = c.Registry.CreateGraph(ctx, name)
				}
				if err != nil {
					return err
				}
				added, err := addTriples(ctx, cfg, lg, triples)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"graph": name, "added": added, "read": len(triples)})
			})
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "create the graph if it does not exist")
	return cmd
}

func newGraphsWatchCmd(factory service.ComponentFactory) *cobra.Command {
	var subject, predicate string
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "watch <name>",
		Short: "Print committed changes to a graph as JSON lines until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, factory, func(ctx context.Context, cfg *config.Config, c *service.Components) error {
				name := schemas.IRI(args[0])
				lg, err := c.Registry.GetMutableGraph(ctx, name)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("delay") {
					delay = cfg.Notify.DefaultDelay
				}
				pattern := schemas.Pattern{Predicate: schemas.IRI(predicate)}
				if subject != "" {
					pattern.Subject = schemas.IRI(subject)
				}

				printer := &eventPrinter{enc: json.NewEncoder(cmd.OutOrStdout()), scope: codec.NewBlankNodeScope()}
				id := lg.Subscribe(printer, pattern, delay)
				defer lg.Unsubscribe(id)
				observability.GetLogger().Info("Watching graph", zap.String("graph", string(name)), zap.Duration("delay", delay))

				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "only report triples with this subject IRI")
	cmd.Flags().StringVar(&predicate, "predicate", "", "only report triples with this predicate")
	cmd.Flags().DurationVar(&delay, "delay", 0, "batch changes committed within this window (default notify.default_delay)")
	return cmd
}

func newGraphsPermissionsCmd(factory service.ComponentFactory) *cobra.Command {
	var read, write []string
	cmd := &cobra.Command{
		Use:   "permissions <name>",
		Short: "Show or replace the capabilities required to read or write a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := schemas.IRI(args[0])
			return withComponents(cmd, factory, func(ctx context.Context, _ *config.Config, c *service.Components) error {
				ac := c.Registry.AccessController()
				if cmd.Flags().Changed("read") {
					caps, err := splitCapabilities(read)
					if err != nil {
						return err
					}
					if err := ac.SetRequiredRead(ctx, name, caps); err != nil {
						return err
					}
				}
				if cmd.Flags().Changed("write") {
					caps, err := splitCapabilities(write)
					if err != nil {
						return err
					}
					if err := ac.SetRequiredReadWrite(ctx, name, caps); err != nil {
						return err
					}
				}

				readCaps, err := ac.RequiredRead(ctx, name)
				if err != nil {
					return err
				}
				writeCaps, err := ac.RequiredReadWrite(ctx, name)
				if err != nil {
					return err
				}
				return printJSON(cmd, permissionsView{Graph: name, Read: capabilityStrings(readCaps), Write: capabilityStrings(writeCaps)})
			})
		},
	}
	cmd.Flags().StringArrayVar(&read, "read", nil, `required read capability, e.g. "file read /etc"; repeatable`)
	cmd.Flags().StringArrayVar(&write, "write", nil, "required read-write capability; repeatable")
	return cmd
}

type graphSummary struct {
	Name      schemas.IRI `json:"name"`
	Immutable bool        `json:"immutable"`
	Triples   int         `json:"triples"`
}

type permissionsView struct {
	Graph schemas.IRI `json:"graph"`
	Read  []string    `json:"read"`
	Write []string    `json:"write"`
}

func capabilityStrings[T fmt.Stringer](caps []T) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = c.String()
	}
	return out
}

// readTriples parses a file in the format its extension names.
func readTriples(path string) ([]schemas.Triple, error) {
	mediaType, err := codec.MediaTypeForPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return codec.Parse(bufio.NewReader(f), mediaType, nil)
}

// addTriples adds triples to lg in a single commit.
func addTriples(ctx context.Context, cfg *config.Config, lg schemas.LockableGraph, triples []schemas.Triple) (int, error) {
	if len(triples) == 0 {
		return 0, nil
	}
	lockCtx, cancel := lockContext(ctx, cfg)
	defer cancel()
	var added int
	err := lg.Update(lockCtx, func(g schemas.Graph) error {
		var err error
		added, err = graph.AddAll(g, slices.Values(triples))
		return err
	})
	return added, err
}

type eventRecord struct {
	Type   string          `json:"type"`
	Triple json.RawMessage `json:"triple"`
}

// eventPrinter writes one JSON line per event. Blank node labels stay stable
// for the lifetime of the watch.
type eventPrinter struct {
	mu    sync.Mutex
	enc   *json.Encoder
	scope *codec.BlankNodeScope
}

func (p *eventPrinter) GraphChanged(events []schemas.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range events {
		encoded, err := codec.EncodeTriple(e.Triple, p.scope)
		if err != nil {
			observability.GetLogger().Warn("Failed to encode event", zap.Error(err))
			continue
		}
		if err := p.enc.Encode(eventRecord{Type: e.Type.String(), Triple: json.RawMessage(encoded)}); err != nil {
			observability.GetLogger().Warn("Failed to write event", zap.Error(err))
			return
		}
	}
}
