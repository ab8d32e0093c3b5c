// SPDX-License-Identifier: MPL-2.0

package platform

// OS name constants for runtime.GOOS comparisons.
// Centralizes the string literals to avoid scattered magic strings.
//
// The metadata environment variable names (EnvVar*) are declared here only:
// no code in this module injects or filters them.
const (
	// Windows is the GOOS value for Windows.
	Windows = "windows"
	// Darwin is the GOOS value for macOS.
	Darwin = "darwin"
	// Linux is the GOOS value for Linux.
	Linux = "linux"
	// EnvVarCmdName names a command-name metadata variable.
	EnvVarCmdName = "INVOWK_CMD_NAME"
	// EnvVarRuntime names a runtime-type metadata variable.
	EnvVarRuntime = "INVOWK_RUNTIME"
	// EnvVarSource names a source-identifier metadata variable.
	EnvVarSource = "INVOWK_SOURCE"
	// EnvVarPlatform names a resolved-platform metadata variable.
	EnvVarPlatform = "INVOWK_PLATFORM"
)
