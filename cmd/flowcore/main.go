// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/flowforge/engine/internal/examples"
	"github.com/flowforge/engine/internal/graphconfig"
	enginelog "github.com/flowforge/engine/internal/log"
	"github.com/flowforge/engine/internal/runstate"
	"github.com/flowforge/engine/pkg/engine"
	"github.com/flowforge/engine/pkg/flowcore"
)

// Version information (injected via ldflags at build time).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "flowcore",
		Short:         "Run and inspect flowcore graphs",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newPlanCommand())
	root.AddCommand(newExamplesCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "flowcore:", err)
		os.Exit(1)
	}
}

func newExamplesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "List the graphs bundled with this binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := examples.List()
			if err != nil {
				return err
			}
			for _, ex := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", ex.Name, ex.Description)
			}
			return nil
		},
	}
}

// loadGraph resolves graphFile either to an embedded example name or a
// path on disk and parses it. Callers bind the result to the bundled
// demonstration step library (the only implementations this binary
// ships) with graphconfig.Build.
func loadGraph(graphFile string) (*graphconfig.Document, error) {
	var data []byte
	if examples.Exists(graphFile) {
		b, err := examples.Get(graphFile)
		if err != nil {
			return nil, err
		}
		data = b
	} else {
		b, err := os.ReadFile(graphFile)
		if err != nil {
			return nil, fmt.Errorf("reading graph file: %w", err)
		}
		data = b
	}
	return graphconfig.Parse(data)
}

func newPlanCommand() *cobra.Command {
	var start string
	cmd := &cobra.Command{
		Use:   "plan <graph>",
		Short: "Print the static execution plan for a graph without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			reg, err := graphconfig.Build(doc, nil, nil, examples.Steps(), nil)
			if err != nil {
				return err
			}
			eng, err := flowcore.New(reg)
			if err != nil {
				return err
			}
			plan, err := eng.Plan(start)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "step to start from (default: the graph's natural roots)")
	return cmd
}

func newRunCommand() *cobra.Command {
	var (
		start     string
		queueSize int
		trace     bool
	)
	cmd := &cobra.Command{
		Use:   "run <graph>",
		Short: "Run a graph, streaming its events as JSON lines to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := enginelog.New(enginelog.FromEnv())

			doc, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			reg, err := graphconfig.Build(doc, nil, nil, examples.Steps(), nil)
			if err != nil {
				return err
			}

			engOpts := []flowcore.Option{flowcore.WithLogger(logger)}
			if trace {
				tp, shutdown, err := newStderrTracerProvider()
				if err != nil {
					return fmt.Errorf("setting up tracing: %w", err)
				}
				defer shutdown(context.Background())
				engOpts = append(engOpts, flowcore.WithTracer(tp.Tracer("flowcore")))
			}

			eng, err := flowcore.New(reg, engOpts...)
			if err != nil {
				return fmt.Errorf("invalid graph: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var opts []flowcore.RunOption
			if queueSize > 0 {
				opts = append(opts, flowcore.WithQueueSize(queueSize))
			}
			events, err := eng.Run(ctx, nil, start, opts...)
			if err != nil {
				return fmt.Errorf("starting run: %w", err)
			}

			payload, err := streamEvents(cmd.OutOrStdout(), events)
			if err != nil {
				return err
			}
			if payload.Status != engine.StatusSuccess {
				fmt.Fprintln(cmd.ErrOrStderr(), runstate.Replay(payload).String())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "step to start from (default: the graph's natural roots)")
	cmd.Flags().IntVar(&queueSize, "queue-size", 0, "bound the run's work queue (0: unbounded)")
	cmd.Flags().BoolVar(&trace, "trace", false, "emit OpenTelemetry spans for each step invocation to stderr")
	return cmd
}

// newStderrTracerProvider builds a TracerProvider that writes spans as
// pretty-printed JSON to stderr, for local inspection of a run's step
// timing without standing up a collector.
func newStderrTracerProvider() (*sdktrace.TracerProvider, func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	return tp, tp.Shutdown, nil
}

// streamEvents writes one JSON object per line for every event on the
// channel, matching the wire shape an external consumer of run(...)
// would see (spec §6): a stream of Events terminated by exactly one
// FINISH event, which it stops after encoding, returning that event's
// payload so the caller can decide whether to replay it.
func streamEvents(out io.Writer, events <-chan engine.Event) (engine.FinishPayload, error) {
	enc := json.NewEncoder(out)
	var payload engine.FinishPayload
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return payload, fmt.Errorf("encoding event: %w", err)
		}
		if ev.Type == engine.EventFinish {
			if p, ok := ev.Payload.(engine.FinishPayload); ok {
				payload = p
			}
			break
		}
	}
	return payload, nil
}
