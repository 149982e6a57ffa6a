package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/codepipe"
	"github.com/hupe1980/codepipe/collab"
	"github.com/hupe1980/codepipe/config"
	"github.com/hupe1980/codepipe/core"
)

type runFlags struct {
	configPath string
	topology   string
	output     string
	userID     string
	sessionID  string
	quiet      bool
}

type runOutput struct {
	RunID  string       `json:"run_id" yaml:"run_id"`
	Answer string       `json:"answer" yaml:"answer"`
	Sample string       `json:"sample,omitempty" yaml:"sample,omitempty"`
	Events []core.Event `json:"events" yaml:"events"`
}

func newRunCmd() *cobra.Command {
	flags := runFlags{}

	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Run the pipeline for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, flags, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to a config file")
	cmd.Flags().StringVar(&flags.topology, "topology", "", "Override the topology: sequence or router")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "text", "Output format: text, json or yaml")
	cmd.Flags().StringVar(&flags.userID, "user", "", "Override the user id")
	cmd.Flags().StringVar(&flags.sessionID, "session", "", "Override the session id")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "Print only the final answer in text mode")

	return cmd
}

func runPipeline(cmd *cobra.Command, flags runFlags, query string) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	if flags.topology != "" {
		cfg.Topology = flags.topology
	}
	if flags.userID != "" {
		cfg.UserID = flags.userID
	}
	if flags.sessionID != "" {
		cfg.SessionID = flags.sessionID
	}

	switch flags.output {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", flags.output)
	}

	pipe, err := codepipe.New(cfg, func(o *codepipe.Options) {
		o.Registerer = prometheus.NewRegistry()
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	runID, events, err := pipe.Run(ctx, query)
	if err != nil {
		return err
	}

	out := runOutput{RunID: runID}
	w := cmd.OutOrStdout()

	var last core.Event
	for ev := range events {
		last = ev
		out.Events = append(out.Events, ev)

		if flags.output == "text" && !flags.quiet {
			printEvent(w, ev)
		}
	}

	out.Answer = core.NoFinalResponseText
	if len(out.Events) > 0 {
		out.Answer = core.FinalText(last)
	}

	if sample, err := pipe.Artifact(collab.ArtifactSample); err == nil {
		out.Sample = string(sample)
	}

	switch flags.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(out)
	}

	if !flags.quiet {
		fmt.Fprintln(w, "=== Final Response ===")
	}
	_, err = fmt.Fprintln(w, out.Answer)

	return err
}

func printEvent(w io.Writer, ev core.Event) {
	if ev.IsPartial() {
		return
	}

	for _, call := range ev.GetFunctionCalls() {
		fmt.Fprintf(w, "[%s] -> %s\n", ev.Author, call.Name)
	}

	if ev.IsEscalation() && ev.ErrorMessage != nil {
		fmt.Fprintf(w, "[%s] escalated: %s\n", ev.Author, *ev.ErrorMessage)
		return
	}

	if ev.IsTerminal() || ev.Content == nil {
		return
	}

	if text := ev.Content.Text(); text != "" {
		fmt.Fprintf(w, "[%s] %s\n", ev.Author, text)
	}
}
