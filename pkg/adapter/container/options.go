// SPDX-License-Identifier: MPL-2.0

// Package container implements the Container adapter: it runs Commands as
// one-shot containers against a local or remote Docker/Podman engine,
// reusing internal/container's engine abstraction.
package container

import (
	containerpkg "github.com/xec-sh/xec/internal/container"
	"github.com/xec-sh/xec/pkg/command"
)

// Options selects and configures the underlying engine.
type Options struct {
	// Engine selects podman or docker; empty auto-detects, preferring
	// podman, per internal/container.AutoDetectEngine.
	Engine containerpkg.EngineType
}

func (Options) adapterOptions() {}

var _ command.AdapterOptions = Options{}

// CommandOptions carries the per-Command container parameters that have no
// equivalent on the generic Command: which image to run it in, volume
// mounts, port mappings, extra hosts, and an optional container name.
type CommandOptions struct {
	Image      containerpkg.ImageTag
	Volumes    []containerpkg.VolumeMount
	Ports      []containerpkg.PortMapping
	ExtraHosts []containerpkg.HostMapping
	Name       containerpkg.ContainerName
}

func (CommandOptions) adapterOptions() {}

var _ command.AdapterOptions = CommandOptions{}
