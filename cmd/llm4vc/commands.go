package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/llm4vc/backend/engine/events"
	"github.com/llm4vc/backend/engine/ingest"
	"github.com/llm4vc/backend/pkg/natsutil"
)

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "llm4vc",
		Short: "Manage the LLM-4-VC document collection",
		Long: `llm4vc loads CSV files into the vector collection and queries it.
Configuration is read from LLM4VC_CONFIG and the same environment
variables as the API server.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newLoadCmd(open),
		newQueryCmd(open),
		newClearCmd(open),
		newInfoCmd(open),
		newWatchCmd(open),
		newVersionCmd(),
	)
	return root
}

// withBackend opens the backend for the duration of fn.
func withBackend(open opener, fn func(*backend) error) error {
	b, err := open()
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}

func newLoadCmd(open opener) *cobra.Command {
	var opts ingest.Options
	cmd := &cobra.Command{
		Use:   "load <file.csv>",
		Short: "Load a CSV file into the collection",
		Long: `Reads the CSV file and adds one document per row. Without
--text-column every column is joined as "col: value | ...". Without
--id-column rows are numbered doc_0, doc_1, ...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(open, func(b *backend) error {
				res, err := b.Loader.LoadFile(cmd.Context(), args[0], opts)
				if err != nil {
					return fmt.Errorf("load failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d documents from %s into %s\n", res.DocumentCount, res.Filename, res.Collection)
				fmt.Fprintf(cmd.OutOrStdout(), "Columns: %v\n", res.Columns)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.TextColumn, "text-column", "", "column used as document text")
	cmd.Flags().StringVar(&opts.IDColumn, "id-column", "", "column used as document id")
	return cmd
}

func newQueryCmd(open opener) *cobra.Command {
	var (
		n      int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Find the documents nearest to a text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(open, func(b *backend) error {
				res, err := b.Collection.Query(cmd.Context(), []string{args[0]}, n)
				if err != nil {
					return fmt.Errorf("query failed: %w", err)
				}
				if asJSON {
					data, err := json.MarshalIndent(res, "", "  ")
					if err != nil {
						return fmt.Errorf("failed to marshal results: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return nil
				}
				if len(res.IDs) == 0 || len(res.IDs[0]) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No results found.")
					return nil
				}
				for i, id := range res.IDs[0] {
					fmt.Fprintf(cmd.OutOrStdout(), "  [%d] %s (distance %.4f)\n", i+1, id, res.Distances[0][i])
					fmt.Fprintf(cmd.OutOrStdout(), "      %s\n", res.Documents[0][i])
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n-results", "n", 5, "number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}

func newClearCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every document in the collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(open, func(b *backend) error {
				if err := b.Collection.Reset(cmd.Context()); err != nil {
					return fmt.Errorf("clear failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Collection %s cleared\n", b.Collection.Name())
				return nil
			})
		},
	}
}

func newInfoCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show collection size and vector store version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(open, func(b *backend) error {
				info, err := b.Collection.Info(cmd.Context())
				if err != nil {
					return fmt.Errorf("info failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Collection:     %s\n", info.Name)
				fmt.Fprintf(cmd.OutOrStdout(), "Documents:      %d\n", info.DocumentCount)
				fmt.Fprintf(cmd.OutOrStdout(), "Vector store:   %s\n", info.StoreVersion)
				return nil
			})
		},
	}
}

func newWatchCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print collection events as they are published",
		Long:  `Subscribes to ` + events.SubjectAll + ` on NATS_URL and prints each event until interrupted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(open, func(b *backend) error {
				if b.NATS == nil {
					return errors.New("watch requires NATS_URL")
				}
				sub, err := natsutil.Subscribe(b.NATS, events.SubjectAll, func(_ context.Context, subject string, ev json.RawMessage) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", subject, ev)
				})
				if err != nil {
					return fmt.Errorf("subscribe: %w", err)
				}
				defer sub.Unsubscribe()
				cmd.PrintErrf("Watching %s, press Ctrl+C to stop\n", events.SubjectAll)
				<-cmd.Context().Done()
				return nil
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "llm4vc version %s\n", version)
		},
	}
}
