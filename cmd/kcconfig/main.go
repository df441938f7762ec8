// kcconfig reconciles the configuration of a Keycloak server against a
// declarative deployment directory.
package main

import (
	"fmt"
	"os"

	"github.com/kcconfig/kcconfig/cmd/kcconfig/cli"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := cli.NewRootCmd(version)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
