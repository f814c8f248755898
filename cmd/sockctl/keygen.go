package main

import (
	"fmt"

	"github.com/go-i2p/go-sockstack/noiseengine"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "keygen",
		Short:       "Generates a Noise static keypair for noise.staticKey.",
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			private, public, err := noiseengine.GenerateKeypair()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "private: %s\npublic:  %s\n",
				noiseengine.EncodeKey(private), noiseengine.EncodeKey(public))
			return nil
		},
	}
}
