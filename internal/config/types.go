// SPDX-License-Identifier: MPL-2.0

package config

import "time"

const (
	// ContainerEnginePodman uses Podman as the container runtime.
	ContainerEnginePodman ContainerEngine = "podman"
	// ContainerEngineDocker uses Docker as the container runtime.
	ContainerEngineDocker ContainerEngine = "docker"
)

const (
	// AdapterLocal targets a local operating-system process.
	AdapterLocal AdapterName = "local"
	// AdapterSSH targets a remote host reached over SSH.
	AdapterSSH AdapterName = "ssh"
	// AdapterContainer targets a running or ephemeral container.
	AdapterContainer AdapterName = "container"
	// AdapterK8s targets a pod in a Kubernetes cluster.
	AdapterK8s AdapterName = "k8s"
	// AdapterAuto lets the engine pick an adapter from the command's target.
	AdapterAuto AdapterName = "auto"
)

type (
	// ContainerEngine specifies which container runtime to use.
	ContainerEngine string

	// AdapterName identifies one of the engine's execution adapters.
	AdapterName string

	// Config holds the engine's application-level configuration: adapter
	// defaults, the SSH connection pool, the container runtime, the
	// Kubernetes context, retry/cache defaults, and UI preferences.
	Config struct {
		// DefaultAdapter is used when a Command does not name a target adapter.
		DefaultAdapter AdapterName `json:"default_adapter" mapstructure:"default_adapter"`
		// MaxBuffer bounds captured stdout and stderr per stream, in bytes, for
		// commands run through the local adapter; exceeding it fails the
		// command with a BufferOverflow error. The other adapters do not apply it.
		MaxBuffer int `json:"max_buffer" mapstructure:"max_buffer"`
		// SSH configures the SSH adapter's connection pool.
		SSH SSHConfig `json:"ssh" mapstructure:"ssh"`
		// Container configures the container-runtime adapter.
		Container ContainerConfig `json:"container" mapstructure:"container"`
		// Kubernetes configures the Kubernetes pod adapter.
		Kubernetes KubernetesConfig `json:"kubernetes" mapstructure:"kubernetes"`
		// Retry holds the engine-wide default retry plan.
		Retry RetryConfig `json:"retry" mapstructure:"retry"`
		// Cache configures the engine-wide result cache.
		Cache CacheConfig `json:"cache" mapstructure:"cache"`
		// UI configures the command-line front end.
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// SSHConfig configures the SSH adapter's connection pool.
	SSHConfig struct {
		// Enabled is loaded and shown by `config show`; the SSH adapter does
		// not read it and always pools connections.
		Enabled bool `json:"enabled" mapstructure:"enabled"`
		// MaxConnections caps open pooled connections across all
		// (user, host, port) triples together.
		MaxConnections int `json:"max_connections" mapstructure:"max_connections"`
		// IdleTimeout is passed to the SSH adapter's Options, which do not act
		// on it: idle connections are not evicted on a timer.
		IdleTimeout time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
		// KeepAlive is loaded and shown by `config show`; the SSH adapter does
		// not read it and sends no periodic heartbeats.
		KeepAlive bool `json:"keep_alive" mapstructure:"keep_alive"`
		// KeepAliveInterval is loaded and shown by `config show` only.
		KeepAliveInterval time.Duration `json:"keep_alive_interval" mapstructure:"keep_alive_interval"`
		// AutoReconnect is loaded and shown by `config show`; the SSH adapter
		// does not read it and does not re-dial a connection after it opened.
		AutoReconnect bool `json:"auto_reconnect" mapstructure:"auto_reconnect"`
		// MaxReconnectAttempts bounds the dial attempts the pool makes when it
		// opens a new connection.
		MaxReconnectAttempts int `json:"max_reconnect_attempts" mapstructure:"max_reconnect_attempts"`
		// ReconnectDelay is loaded and shown by `config show` only; dial
		// attempts follow one another without a delay.
		ReconnectDelay time.Duration `json:"reconnect_delay" mapstructure:"reconnect_delay"`
	}

	// ContainerConfig configures the container-runtime adapter.
	ContainerConfig struct {
		// Engine selects "podman" or "docker".
		Engine ContainerEngine `json:"engine" mapstructure:"engine"`
		// AutoProvision configures automatic provisioning of the engine binary
		// into ephemeral containers so in-container commands can shell out to it.
		AutoProvision AutoProvisionConfig `json:"auto_provision" mapstructure:"auto_provision"`
	}

	// AutoProvisionConfig controls auto-provisioning of the engine binary into containers.
	AutoProvisionConfig struct {
		// Enabled enables/disables auto-provisioning (default: true).
		Enabled bool `json:"enabled" mapstructure:"enabled"`
		// BinaryPath overrides the path to the binary to provision.
		BinaryPath string `json:"binary_path" mapstructure:"binary_path"`
		// CacheDir specifies where to store cached provisioned-image metadata.
		CacheDir string `json:"cache_dir" mapstructure:"cache_dir"`
	}

	// KubernetesConfig configures the Kubernetes pod adapter.
	KubernetesConfig struct {
		// Context selects the kubeconfig context; empty uses the current context.
		Context string `json:"context" mapstructure:"context"`
		// Namespace is the default namespace for pod targets.
		Namespace string `json:"namespace" mapstructure:"namespace"`
		// KubeconfigPath overrides the kubeconfig file location.
		KubeconfigPath string `json:"kubeconfig_path" mapstructure:"kubeconfig_path"`
	}

	// RetryConfig holds the engine-wide default retry plan. When MaxRetries
	// is above zero, the CLI's Engine wraps every Process Handle it creates
	// in this plan, with MaxRetries + 1 attempts in all.
	RetryConfig struct {
		MaxRetries        int           `json:"max_retries" mapstructure:"max_retries"`
		InitialDelay      time.Duration `json:"initial_delay" mapstructure:"initial_delay"`
		BackoffMultiplier float64       `json:"backoff_multiplier" mapstructure:"backoff_multiplier"`
		MaxDelay          time.Duration `json:"max_delay" mapstructure:"max_delay"`
		JitterFraction    float64       `json:"jitter_fraction" mapstructure:"jitter_fraction"`
	}

	// CacheConfig configures the engine-wide result cache.
	CacheConfig struct {
		// Enabled makes the CLI's Engine wrap every Process Handle it creates
		// in one shared result cache.
		Enabled bool `json:"enabled" mapstructure:"enabled"`
		// DefaultTTL is the TTL of the entries that cache stores.
		DefaultTTL time.Duration `json:"default_ttl" mapstructure:"default_ttl"`
		// MaxEntries is loaded and shown by `config show`; the cache does not
		// read it and does not bound its number of entries.
		MaxEntries int `json:"max_entries" mapstructure:"max_entries"`
	}

	// UIConfig configures the command-line front end.
	UIConfig struct {
		// ColorScheme names a color scheme ("auto", "dark", "light"); it is
		// loaded and shown by `config show`, and the CLI's styles do not read it.
		ColorScheme string `json:"color_scheme" mapstructure:"color_scheme"`
		// Verbose enables verbose output.
		Verbose bool `json:"verbose" mapstructure:"verbose"`
		// Interactive is loaded and shown by `config show`; no command reads it.
		Interactive bool `json:"interactive" mapstructure:"interactive"`
	}
)

// DefaultConfig returns the configuration used when no config file is found.
func DefaultConfig() *Config {
	return &Config{
		DefaultAdapter: AdapterLocal,
		MaxBuffer:      10 * 1024 * 1024,
		SSH: SSHConfig{
			Enabled:              true,
			MaxConnections:       4,
			IdleTimeout:          5 * time.Minute,
			KeepAlive:            true,
			KeepAliveInterval:    30 * time.Second,
			AutoReconnect:        true,
			MaxReconnectAttempts: 3,
			ReconnectDelay:       2 * time.Second,
		},
		Container: ContainerConfig{
			Engine: ContainerEnginePodman,
			AutoProvision: AutoProvisionConfig{
				Enabled:    true,
				BinaryPath: "", // Will use os.Executable() if empty
				CacheDir:   "", // Will use default cache dir if empty
			},
		},
		Kubernetes: KubernetesConfig{
			Context:   "",
			Namespace: "default",
		},
		Retry: RetryConfig{
			MaxRetries:        0,
			InitialDelay:      200 * time.Millisecond,
			BackoffMultiplier: 2.0,
			MaxDelay:          10 * time.Second,
			JitterFraction:    0.1,
		},
		Cache: CacheConfig{
			Enabled:    true,
			DefaultTTL: 1 * time.Minute,
			MaxEntries: 1000,
		},
		UI: UIConfig{
			ColorScheme: "auto",
			Verbose:     false,
			Interactive: false,
		},
	}
}
