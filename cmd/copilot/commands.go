package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/cookieclicker123/tanooki-copilot/internal/llm"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/cookieclicker123/tanooki-copilot/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newQueryCmd(c *cli) *cobra.Command {
	var (
		stream  bool
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Run a query through the full pipeline",
		Long: `Classifies the query, extracts catalog entities and streams the answer
from the configured backend. The workflow result is printed as JSON.

Example:
  copilot query --project project-a "Find me all the clips where John is at the Beach."`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var onChunk llm.ChunkFunc
			if stream {
				errOut := cmd.ErrOrStderr()
				onChunk = func(chunk string) { fmt.Fprint(errOut, chunk) }
			}

			q := models.Query{Text: strings.Join(args, " "), ProjectID: c.projectID}
			result, err := c.app.Workflow.Run(cmd.Context(), q, onChunk)
			if err != nil {
				return err
			}
			if stream {
				fmt.Fprintln(cmd.ErrOrStderr())
			}

			if outPath != "" {
				if err := saveResult(outPath, result); err != nil {
					return err
				}
				c.logger.Info("Query result saved", zap.String("path", outPath))
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "echo answer fragments to stderr as they arrive")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "also write the result JSON to this file")
	return cmd
}

func saveResult(path string, result *models.WorkflowResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := writeJSON(f, result); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func newClassifyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [text]",
		Short: "Print the agent categories matched by a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := c.app.Classifier.Classify(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), intent)
		},
	}
}

func newExtractCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "extract [text]",
		Short: "Print the catalog entities found in a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := c.app.Catalogs.AvailableEntities(cmd.Context(), c.project())
			if err != nil {
				return err
			}
			entities, err := c.app.Extractor.Extract(strings.Join(args, " "), catalog)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), entities)
		},
	}
}

func newKeepAliveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "keepalive",
		Short: "Load the Ollama model and keep it resident for llm.keep_alive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.KeepAlive(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s kept alive for %s\n", c.cfg.LLM.Model, c.cfg.LLM.KeepAlive)
			return nil
		},
	}
}

func newHistoryCmd(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent query results of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := c.app.Workflow.Recent(cmd.Context(), c.project(), limit)
			if err != nil {
				return err
			}
			if results == nil {
				results = []*models.WorkflowResult{}
			}
			return writeJSON(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", storage.DefaultHistoryLimit, "number of results to show")
	return cmd
}

func newCatalogCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage project entity catalogs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Load the projects of a YAML catalog file into the configured store",
		Long: `Reads a catalog file of the form

  projects:
    - project_id: project-a
      contributors: {john_id: John}
      locations: {beach_id: Beach}
      clip_types: [rush, review]

and writes every project to the catalog store (memory or postgres),
replacing any catalog already stored for the same project.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := c.app.ImportCatalog(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"imported": ids})
		},
	})
	return cmd
}
