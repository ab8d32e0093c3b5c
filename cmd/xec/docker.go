// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	containerpkg "github.com/xec-sh/xec/internal/container"
	"github.com/xec-sh/xec/pkg/adapter/container"
	"github.com/xec-sh/xec/pkg/command"
)

func newDockerCommand() *cobra.Command {
	var (
		image   string
		name    string
		volumes []string
		dir     string
		env     []string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "docker --image <image> -- <program> [args...]",
		Short: "Run a command in a one-shot container",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c := command.New(args[0], args[1:]...)
			if dir != "" {
				c = c.WithDir(dir)
			}
			if len(env) > 0 {
				c = c.WithEnv(parseEnvFlags(env))
			}
			if timeout > 0 {
				c = c.WithTimeout(timeout)
			}
			c = c.WithAdapter(command.AdapterContainer, container.CommandOptions{
				Image:   containerpkg.ImageTag(image),
				Volumes: parseVolumeFlags(volumes),
				Name:    containerpkg.ContainerName(name),
			})

			h := eng.Run(cmd.Context(), c)
			return runAndReport(cmd.Context(), h, command.AdapterContainer, image)
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "container image to run the command in (required)")
	cmd.Flags().StringVar(&name, "name", "", "container name")
	cmd.Flags().StringArrayVar(&volumes, "volume", nil, "bind mount host:container[:ro] (repeatable)")
	cmd.Flags().StringVar(&dir, "dir", "", "working directory inside the container")
	cmd.Flags().StringArrayVar(&env, "env", nil, "environment override KEY=VALUE (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "command timeout")
	cmd.MarkFlagRequired("image")

	return cmd
}

// parseVolumeFlags parses repeated --volume flags via internal/container's
// own host:container[:options] grammar, skipping (and warning about) any
// entry that fails validation rather than failing the whole command.
func parseVolumeFlags(flags []string) []containerpkg.VolumeMount {
	if len(flags) == 0 {
		return nil
	}
	mounts := make([]containerpkg.VolumeMount, 0, len(flags))
	for _, f := range flags {
		mount, err := containerpkg.ParseVolumeMount(f)
		if err != nil {
			fmt.Fprintln(os.Stderr, warningStyle.Render("warning:")+" ignoring invalid --volume "+f+": "+err.Error())
			continue
		}
		mounts = append(mounts, mount)
	}
	return mounts
}
