package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/codyaverett/mcp-agent/internal/runctx"
)

type taskFile struct {
	Tasks []taskEntry `yaml:"tasks"`
}

type taskEntry struct {
	Name string `yaml:"name"`
	Task string `yaml:"task"`
}

func loadTasks(path string) ([]taskEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tasks %s: %w", path, err)
	}
	var tf taskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing tasks %s: %w", path, err)
	}
	if len(tf.Tasks) == 0 {
		return nil, fmt.Errorf("%s: no tasks", path)
	}
	for i := range tf.Tasks {
		if tf.Tasks[i].Task == "" {
			return nil, fmt.Errorf("%s: task %d is empty", path, i+1)
		}
		if tf.Tasks[i].Name == "" {
			tf.Tasks[i].Name = fmt.Sprintf("task-%d", i+1)
		}
	}
	return tf.Tasks, nil
}

func newRunFileCmd(opts *options) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "run-file <tasks.yaml>",
		Short: "Run every task in a file as an independent run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("concurrency") {
				if concurrency < 1 {
					return fmt.Errorf("--concurrency must be at least 1")
				}
				cfg.Orchestrator.Concurrency = concurrency
			}
			tasks, err := loadTasks(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, opts.stderr, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			return runTasks(cmd.Context(), a, tasks, opts)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "maximum parallel runs (default from config)")
	return cmd
}

// runTasks runs each task on its own orchestrator. A failed task does not
// cancel the others; the combined error counts the failures.
func runTasks(ctx context.Context, a *app, tasks []taskEntry, opts *options) error {
	var (
		mu     sync.Mutex
		failed int
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Orchestrator.Concurrency)

	for _, t := range tasks {
		t := t
		g.Go(func() error {
			runCtx := runctx.WithTrigger(ctx, "run-file:"+t.Name)
			res, err := a.Orchestrator().Run(runCtx, t.Task)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				fmt.Fprintf(opts.stderr, "=== ERROR [%s] ===\n%s\n", t.Name, err)
				return nil
			}
			return printResult(opts.stdout, fmt.Sprintf("=== RESULT [%s] ===", t.Name), res.Payload)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(tasks))
	}
	return nil
}
