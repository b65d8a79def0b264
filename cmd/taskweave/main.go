// Command taskweave runs a small demonstration pipeline through the engine
// with the console observer attached. The engine itself is a library; this
// binary exists to exercise it end to end.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"taskweave"
)

var (
	workers int
	env     string
	verbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "taskweave",
		Short:         "dependency-driven task execution engine demo",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "worker count (default: CPU count clamped to [2,8])")
	root.PersistentFlags().StringVar(&env, "env", "dev", "target environment for the Deploy section")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine internals")

	root.AddCommand(runCmd(), cleanCmd(), graphCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func options() []taskweave.Option {
	opts := []taskweave.Option{
		taskweave.WithObserver(taskweave.NewConsoleObserver(os.Stdout)),
		taskweave.WithArgs(taskweave.Args{"env": env}),
	}
	if workers > 0 {
		opts = append(opts, taskweave.WithWorkers(workers))
	}
	level := hclog.Warn
	if verbose {
		level = hclog.Debug
	}
	opts = append(opts, taskweave.WithLogger(hclog.New(&hclog.LoggerOptions{
		Name:  "taskweave",
		Level: level,
	})))
	return opts
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the demo pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := taskweave.Run(&Release{}, options()...)
			if err != nil {
				return err
			}
			fmt.Printf("release: %s\n", inst.(*Release).Summary)
			return nil
		},
	}
}

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "clean the demo pipeline in reverse order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return taskweave.Clean(&Release{}, options()...)
		},
	}
}

func graphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "print the expanded dependency edges",
		RunE: func(cmd *cobra.Command, args []string) error {
			edges, err := taskweave.GraphOf(&Release{}, options()...)
			if err != nil {
				return err
			}
			for _, e := range edges {
				fmt.Printf("%s -> %s\n", e[0], e[1])
			}
			return nil
		},
	}
}
