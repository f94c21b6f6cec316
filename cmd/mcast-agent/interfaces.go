package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"Multicast-Agent/internal/core/network"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List multicast-capable network interfaces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ifs, err := network.MulticastInterfaces()
		if err != nil {
			return fmt.Errorf("list interfaces: %w", err)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tINDEX\tMTU\tADDRS")
		for _, ifi := range ifs {
			addrs, _ := ifi.Addrs()
			names := make([]string, 0, len(addrs))
			for _, a := range addrs {
				names = append(names, a.String())
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", ifi.Name, ifi.Index, ifi.MTU, strings.Join(names, ","))
		}
		return w.Flush()
	},
}
