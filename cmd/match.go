package cmd

import (
	"bufio"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/graphstore/internal/codec"
	"github.com/xkilldash9x/graphstore/internal/graph"
	"github.com/xkilldash9x/graphstore/internal/graphmatch"
)

type matchResult struct {
	Isomorphic bool `json:"isomorphic"`
	// Mapping pairs the blank node labels of the first file with those of
	// the second.
	Mapping map[string]string `json:"mapping,omitempty"`
}

func newMatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match <file1> <file2>",
		Short: "Report whether two RDF documents describe isomorphic graphs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			left, leftScope, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			right, rightScope, err := loadGraph(args[1])
			if err != nil {
				return err
			}

			mapping, ok := graphmatch.Match(left, right)
			result := matchResult{Isomorphic: ok}
			if ok && len(mapping) > 0 {
				result.Mapping = make(map[string]string, len(mapping))
				for from, to := range mapping {
					result.Mapping[leftScope.Label(from)] = rightScope.Label(to)
				}
			}
			return printJSON(cmd, result)
		},
	}
}

func loadGraph(path string) (*graph.SimpleGraph, *codec.BlankNodeScope, error) {
	mediaType, err := codec.MediaTypeForPath(path)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	scope := codec.NewBlankNodeScope()
	triples, err := codec.Parse(bufio.NewReader(f), mediaType, scope)
	if err != nil {
		return nil, nil, err
	}
	return graph.NewSimpleGraph(triples...), scope, nil
}
