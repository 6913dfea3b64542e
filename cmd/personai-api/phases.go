package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/personai/internal/app/phase"
)

func newPhasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phases",
		Short: "Print the dialogue phase table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := phase.DefaultTable()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PHASE\tARCHITECT\tTOOLS\tGOAL")
			for _, in := range table.All() {
				name := string(in.Phase)
				if in.Phase == table.Default() {
					name += " (default)"
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", name, in.Architect, strings.Join(in.Tools, ","), in.Goal)
			}
			return w.Flush()
		},
	}
}
