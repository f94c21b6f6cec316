package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"Multicast-Agent/internal/core/topic"
)

var hashCmd = &cobra.Command{
	Use:   "hash <topic>...",
	Short: "Print the on-wire identifier of each topic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range args {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", topic.Hash(name).Hex(), name)
		}
		return nil
	},
}
