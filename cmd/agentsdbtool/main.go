// Command agentsdbtool is a thin smoke-test harness for the agentsdb
// library. It is not the CLI product the library's package surface is
// designed for callers to build; it exists to drive the library end to end
// (compile, search, append, promote, propose/accept) from a shell for
// manual verification.
package main

import (
	"fmt"
	"os"

	"github.com/agentsdb/agentsdb/cmd/agentsdbtool/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
