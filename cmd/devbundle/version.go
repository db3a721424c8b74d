package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/devbundle"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of devbundle",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("devbundle version %s\n", strings.TrimSpace(devbundle.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
