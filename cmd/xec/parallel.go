// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xec-sh/xec/pkg/command"
	"github.com/xec-sh/xec/pkg/parallel"
)

func newParallelCommand() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "parallel -- <program1> [args...] -- <program2> [args...] ...",
		Short: "Run several local commands concurrently and wait for all of them",
		Long: `Run several commands concurrently against the local adapter, separating
each command's program and arguments with "--". Once every command has
settled, reports each failed command and, if any command did not succeed,
fails with an error naming how many of them failed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cmds, err := splitParallelCommands(args)
			if err != nil {
				return err
			}

			tasks := make([]parallel.Task, len(cmds))
			for i, c := range cmds {
				c := c.WithAdapter(command.AdapterLocal, nil)
				tasks[i] = func(ctx context.Context) (command.Result, error) {
					return eng.Run(ctx, c).Await(ctx)
				}
			}

			settled := parallel.Settled(cmd.Context(), tasks, parallel.Options{MaxConcurrency: concurrency})
			failed := 0
			for i, outcome := range settled.Results {
				os.Stdout.Write(outcome.Result.Stdout)
				os.Stderr.Write(outcome.Result.Stderr)
				if !outcome.OK() {
					failed++
					fmt.Fprintf(os.Stderr, "%s command %d (%s): %s\n", errorStyle.Render("failed:"), i, cmds[i].String(), describeOutcome(outcome))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d commands failed", failed, len(cmds))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "maximum commands running at once (0 means unlimited)")
	return cmd
}

func describeOutcome(o parallel.Outcome) string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return o.Result.Cause()
}

// splitParallelCommands splits args on literal "--" separators into one
// command.Command per segment.
func splitParallelCommands(args []string) ([]command.Command, error) {
	var segments [][]string
	start := 0
	for i, a := range args {
		if a == "--" {
			segments = append(segments, args[start:i])
			start = i + 1
		}
	}
	segments = append(segments, args[start:])

	cmds := make([]command.Command, 0, len(segments))
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		cmds = append(cmds, command.New(seg[0], seg[1:]...))
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("no commands given; separate each with --")
	}
	return cmds, nil
}
