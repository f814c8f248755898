package main

import (
	"fmt"

	sockstack "github.com/go-i2p/go-sockstack"
	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Connects once and reports the handshake result.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, stop, err := openStack()
			if err != nil {
				return err
			}
			defer stop()

			conn, err := dial(st)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "handshake failed (%s): %v\n", sockstack.KindOf(err), err)
				return err
			}

			sock, err := st.Socket(conn.Handle())
			if err != nil {
				conn.Close()
				return err
			}
			_, _, hs := sock.GetSocketMetrics()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s handshake=%s\n", conn.RemoteAddr(), sock.GetSocketState(), hs)

			return conn.Close()
		},
	}
}
