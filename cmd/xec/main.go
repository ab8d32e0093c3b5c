// SPDX-License-Identifier: MPL-2.0

// Command xec is the command-line front end for the engine: it wires
// cobra subcommands onto a process-wide ambient Engine and disposes it on
// exit.
package main

func main() {
	Execute()
}
