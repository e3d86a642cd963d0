// Package main is the taxgpt operations CLI: inspect ingested documents,
// export summaries, purge the store, or serve the MCP tool interface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/taxgpt/taxgpt/internal/config"
	"github.com/taxgpt/taxgpt/internal/database"
	"github.com/taxgpt/taxgpt/internal/export"
	"github.com/taxgpt/taxgpt/internal/mcptools"
	"github.com/taxgpt/taxgpt/internal/model"
	"github.com/taxgpt/taxgpt/internal/repository"
	"github.com/taxgpt/taxgpt/internal/s3storage"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "taxgpt: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxgpt",
		Short: "taxgpt operations CLI",
		Long: `taxgpt talks directly to the document database and object store.
It lists ingested documents, exports XLSX summaries, purges all documents,
and serves the document tools over MCP stdio.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newListCmd(),
		newExportCmd(),
		newPurgeCmd(),
		newMCPCmd(),
	)
	return cmd
}

func newListCmd() *cobra.Command {
	var taxYear int
	var docType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ingested documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, pool, err := openRepository(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if docType != "" && !model.ValidDocType(docType) {
				return fmt.Errorf("unknown doc_type %q", docType)
			}
			docs, err := repo.List(ctx, repository.ListFilter{TaxYear: taxYear, DocType: docType})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFILENAME\tTYPE\tYEAR\tSTATUS\tINGESTED")
			for _, doc := range docs {
				year := ""
				if doc.TaxYear != nil {
					year = fmt.Sprintf("%d", *doc.TaxYear)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					doc.ID, doc.OriginalFilename, doc.DocType, year, doc.Status,
					doc.IngestedAt.UTC().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&taxYear, "tax-year", 0, "Filter by tax year")
	cmd.Flags().StringVar(&docType, "doc-type", "", "Filter by document type")
	return cmd
}

func newExportCmd() *cobra.Command {
	var out string
	var taxYear int
	var docType string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an XLSX summary of ingested documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, pool, err := openRepository(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if docType != "" && !model.ValidDocType(docType) {
				return fmt.Errorf("unknown doc_type %q", docType)
			}
			svc := export.NewService(repo, slog.Default())
			data, err := svc.DocumentsXLSX(ctx, repository.ListFilter{TaxYear: taxYear, DocType: docType})
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Printf("wrote %s (%d bytes)\n", out, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "documents.xlsx", "Output file path")
	cmd.Flags().IntVar(&taxYear, "tax-year", 0, "Filter by tax year")
	cmd.Flags().StringVar(&docType, "doc-type", "", "Filter by document type")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every document and its stored file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !yes {
				return fmt.Errorf("refusing to purge without --yes")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			repo := repository.NewDocumentRepository(pool)

			store, err := s3storage.New(cfg)
			if err != nil {
				return err
			}

			keys, err := repo.DeleteAll(ctx)
			if err != nil {
				return err
			}
			for _, key := range keys {
				if err := store.Remove(ctx, key); err != nil {
					fmt.Fprintf(os.Stderr, "warning: remove %s: %v\n", key, err)
				}
			}
			fmt.Printf("deleted %d documents\n", len(keys))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the purge")
	return cmd
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the document tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, pool, err := openRepository(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			srv, err := mcptools.NewServer(repo, version)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}

func openRepository(ctx context.Context) (*repository.DocumentRepository, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewDocumentRepository(pool), pool, nil
}
