package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Fills the stack with connections and prints slot bookkeeping.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, stop, err := openStack()
			if err != nil {
				return err
			}
			defer stop()

			out := cmd.OutOrStdout()
			printStats(cmd, "initial", st.Stats())

			var firstErr error
			opened := 0
			for i := 0; i < st.Capacity(); i++ {
				conn, err := dial(st)
				if err != nil {
					fmt.Fprintf(out, "dial %d failed: %v\n", i, err)
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				defer conn.Close()
				opened++
			}
			printStats(cmd, "connected", st.Stats())

			if opened == st.Capacity() {
				// One more must fail without waiting.
				if _, err := dial(st); err != nil {
					fmt.Fprintf(out, "extra dial: %v\n", err)
				}
			}
			return firstErr
		},
	}
}

func printStats(cmd *cobra.Command, label string, stats map[string]int) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: capacity=%d in_use=%d available=%d\n",
		label, stats["capacity"], stats["in_use"], stats["available"])
}
