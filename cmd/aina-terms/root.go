package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/optim-dev/aina/internal/app"
	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/pkg/terminology/config"
)

// rootOptions holds the global flags.
type rootOptions struct {
	configPath string
	glossary   string
	logLevel   string
}

// env carries what the persistent pre-run prepared to the subcommands.
type env struct {
	opts *rootOptions
	cfg  *config.Config
	log  logging.Logger
}

func newRootCommand() *cobra.Command {
	e := &env{opts: &rootOptions{}}

	cmd := &cobra.Command{
		Use:     "aina-terms",
		Short:   "Catalan terminology checker",
		Long:    "aina-terms flags non-normative Catalan terms in administrative text and\nsuggests the recommended form from a curated glossary.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if e.log != nil {
				_ = e.log.Sync()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&e.opts.configPath, "config", "c", "", "config file path (YAML)")
	pf.StringVarP(&e.opts.glossary, "glossary", "g", "", "glossary file, overrides glossary.path")
	pf.StringVar(&e.opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newBuildCmd(e),
		newDetectCmd(e),
		newSearchCmd(e),
		newServeCmd(e),
		newInspectCmd(e),
	)
	return cmd
}

func (e *env) init() error {
	cfg, err := config.Load(e.opts.configPath)
	if err != nil {
		return err
	}
	if e.opts.glossary != "" {
		cfg.Glossary.Path = e.opts.glossary
	}
	if e.opts.logLevel != "" {
		cfg.Log.Level = e.opts.logLevel
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	logging.SetDefault(log)
	e.cfg, e.log = cfg, log
	return nil
}

// open wires the application. The caller closes it.
func (e *env) open(ctx context.Context) (*app.App, error) {
	return app.New(ctx, e.cfg, e.log)
}

// ready opens the application and makes an index available.
func (e *env) ready(ctx context.Context) (*app.App, error) {
	a, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := a.Manager.Bootstrap(ctx, e.cfg.Index.BuildOnStart); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
