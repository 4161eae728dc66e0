package main

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/emit"
	"github.com/genflow/workflow-engine/graph/engine"
	"github.com/genflow/workflow-engine/graph/format"
	"github.com/genflow/workflow-engine/graph/logging"
	"github.com/genflow/workflow-engine/graph/metrics"
	"github.com/genflow/workflow-engine/graph/registry"
	"github.com/genflow/workflow-engine/graph/secret"
	"github.com/genflow/workflow-engine/graph/trace"
	"github.com/genflow/workflow-engine/graph/trace/sqlstore"
	"github.com/genflow/workflow-engine/nodes/builtin"
)

func newRunCmd() *cobra.Command {
	var (
		inputText     string
		intelligent   bool
		nodeTimeout   time.Duration
		secretsPath   string
		tracePath     string
		jsonEvents    bool
	)

	cmd := &cobra.Command{
		Use:   "run <workflow.json>",
		Short: "Execute a workflow and stream its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := loadWorkflow(args[0])
			if err != nil {
				return err
			}

			log := logging.Console(os.Stderr)

			defaults, err := secret.LoadDefaults(secretsPath)
			if err != nil {
				return err
			}

			var sink trace.Sink = trace.NullSink{}
			if tracePath != "" {
				sqlSink, err := sqlstore.New(tracePath,
					sqlstore.WithLogger(logging.Component(log, "trace")),
					sqlstore.WithRetention(30*24*time.Hour, "17 3 * * *"),
				)
				if err != nil {
					return err
				}
				defer func() { _ = sqlSink.Close() }()
				sink = sqlSink
			}

			reg := registry.New()
			formats := format.NewRegistry()
			builtin.Register(reg, formats, builtin.Options{})

			e := engine.New(reg,
				engine.WithFormatters(formats),
				engine.WithSecrets(secret.NewChainResolver(nil, defaults)),
				engine.WithTraceSink(sink),
				engine.WithMetrics(metrics.New(prometheus.NewRegistry())),
				engine.WithLogger(log),
			)
			defer e.Close()

			opts := engine.StartOptions{
				UseIntelligentRouting: intelligent,
				TimeoutPerNode:        nodeTimeout,
			}
			if inputText != "" {
				opts.EntryInputs = graph.NodeOutput{"text": graph.FromString(inputText)}
			}

			id, err := e.Start(wf, opts)
			if err != nil {
				return err
			}
			log.Info().Str("execution", id).Str("workflow", wf.ID).Msg("execution started")

			sub, err := e.Stream(id)
			if err != nil {
				return err
			}
			defer sub.Close()

			printer := emit.NewLogEmitter(os.Stdout, jsonEvents)
			for evt := range sub.Events {
				printer.Emit(evt)
				if emit.IsTerminal(evt.Kind) {
					break
				}
			}

			snap, err := e.Status(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "\nstatus: %s  cost: $%s  tokens: %d\n",
				snap.Status, snap.TotalCost.StringFixed(6), snap.TotalTokens)
			if snap.Error != nil {
				return fmt.Errorf("execution failed at node %s: %s", snap.Error.NodeID, snap.Error.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputText, "input", "", "runtime text handed to the entry nodes")
	cmd.Flags().BoolVar(&intelligent, "intelligent-routing", false, "enable LLM-assisted input routing")
	cmd.Flags().DurationVar(&nodeTimeout, "node-timeout", 0, "per-node execution timeout (0 = unlimited)")
	cmd.Flags().StringVar(&secretsPath, "secrets", "secrets.yaml", "YAML file with default secrets")
	cmd.Flags().StringVar(&tracePath, "trace-db", "", "SQLite file for trace persistence (empty = no traces)")
	cmd.Flags().BoolVar(&jsonEvents, "json", false, "print events as JSONL instead of text")
	return cmd
}
