package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/optim-dev/aina/internal/app"
	"github.com/optim-dev/aina/internal/docsource"
	"github.com/optim-dev/aina/pkg/terminology"
)

type detectOptions struct {
	format    string
	jsonl     bool
	k         int
	threshold float64
	window    int
}

func newDetectCmd(e *env) *cobra.Command {
	opts := &detectOptions{}
	cmd := &cobra.Command{
		Use:   "detect [file|-]",
		Short: "Check a document and print the suggestions as JSON",
		Long: "Check a document read from a file or stdin. HTML files are reduced to their\n" +
			"visible text. With --jsonl every input line is a document {\"id\",\"text\"|\"html\"}\n" +
			"and one result per line is printed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			ctx := cmd.Context()
			a, err := e.ready(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			tune := terminology.Request{K: opts.k, ContextWindow: opts.window}
			if cmd.Flags().Changed("threshold") {
				tune.Threshold = terminology.Threshold(opts.threshold)
			}
			if opts.jsonl {
				return detectJSONL(cmd, a, path, tune)
			}

			text, err := docsource.ReadFile(path, docsource.Format(opts.format))
			if err != nil {
				return err
			}
			tune.Text = text
			resp, err := a.Engine.Detect(ctx, a.Request(tune))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.format, "format", "", "input format: text or html (default: from the file extension)")
	f.BoolVar(&opts.jsonl, "jsonl", false, "input is JSONL, one document per line")
	f.IntVar(&opts.k, "k", 0, "vector neighbours per phrase (default from config)")
	f.Float64Var(&opts.threshold, "threshold", 0, "vector similarity threshold (default from config)")
	f.IntVar(&opts.window, "context-window", 0, "tokens of context on each side (default from config)")
	return cmd
}

type lineResult struct {
	ID       string                `json:"id"`
	Response *terminology.Response `json:"response,omitempty"`
	Error    string                `json:"error,omitempty"`
}

func detectJSONL(cmd *cobra.Command, a *app.App, path string, tune terminology.Request) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	docs, err := docsource.LoadJSONL(r, a.Log)
	if err != nil {
		return err
	}

	reqs := make([]terminology.Request, len(docs))
	for i, d := range docs {
		req := tune
		req.Text = d.Text
		reqs[i] = a.Request(req)
	}
	results, err := a.Engine.DetectBatch(cmd.Context(), reqs)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	var failed int
	for i, res := range results {
		line := lineResult{ID: docs[i].ID, Response: res.Response}
		if res.Err != nil {
			failed++
			line.Response = nil
			line.Error = res.Err.Error()
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(docs))
	}
	return nil
}
