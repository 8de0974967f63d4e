package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cookieclicker123/tanooki-copilot/internal/app"
	"github.com/cookieclicker123/tanooki-copilot/internal/logger"
	"github.com/cookieclicker123/tanooki-copilot/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cli holds the persistent flags and the pipeline built from them
type cli struct {
	configPath string
	projectID  string
	provider   string
	model      string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
	app    *app.App
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}

	root := &cobra.Command{
		Use:   "copilot",
		Short: "Tanooki production copilot",
		Long: `copilot answers natural-language questions about video production.

Each query is classified into agent categories, mined for contributors,
locations and clip types from the project catalog, and answered by the
configured LLM backend (ollama, openai, groq or mock).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", os.Getenv("COPILOT_CONFIG"), "path to the YAML config file")
	flags.StringVarP(&c.projectID, "project", "p", "", "project whose catalog resolves entities (default app.default_project_id)")
	flags.StringVar(&c.provider, "provider", "", "LLM provider: ollama, openai, groq or mock")
	flags.StringVar(&c.model, "model", "", "LLM model name")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newQueryCmd(c),
		newClassifyCmd(c),
		newExtractCmd(c),
		newKeepAliveCmd(c),
		newHistoryCmd(c),
		newCatalogCmd(c),
	)
	return root, c
}

// execute runs the command tree and releases the pipeline even when the
// command fails
func execute(ctx context.Context, root *cobra.Command, c *cli) error {
	defer c.teardown()
	return root.ExecuteContext(ctx)
}

func (c *cli) setup(cmd *cobra.Command) error {
	overrides := map[string]any{}
	if c.provider != "" {
		overrides["llm.provider"] = c.provider
	}
	if c.model != "" {
		overrides["llm.model"] = c.model
	}
	if c.verbose {
		overrides["logging.level"] = "debug"
	}

	cfg, err := config.LoadConfigWithOverrides(c.configPath, overrides)
	if err != nil {
		return err
	}
	c.cfg = cfg

	c.logger, err = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	c.app, err = app.New(cmd.Context(), cfg, c.logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	return nil
}

func (c *cli) teardown() {
	if c.app != nil {
		if err := c.app.Close(); err != nil {
			c.logger.Warn("Failed to close pipeline", zap.Error(err))
		}
		c.app = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func (c *cli) project() string {
	if c.projectID != "" {
		return c.projectID
	}
	return c.cfg.App.DefaultProjectID
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
