package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"feed-attestor/internal/app"
)

var (
	verifyOpts app.VerifyOptions
	ratifyOpts app.RatifyOptions
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that a manifest signature recovers to an address",
	RunE: func(cmd *cobra.Command, args []string) error {
		if verifyOpts.Hash == "" || verifyOpts.Signature == "" {
			return fmt.Errorf("--hash and --signature are required")
		}
		return getApp().Verify(verifyOpts)
	},
}

var ratifyCmd = &cobra.Command{
	Use:   "ratify",
	Short: "Counter-sign a manifest hash and submit it for ratification",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ratifyOpts.Hash == "" {
			return fmt.Errorf("--hash is required")
		}
		return getApp().Ratify(cmd.Context(), ratifyOpts)
	},
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Print the oracle address and agent id",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Identity()
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyOpts.Hash, "hash", "", "Manifest hash (0x-prefixed keccak256)")
	verifyCmd.Flags().StringVar(&verifyOpts.Signature, "signature", "", "65-byte signature in hex")
	verifyCmd.Flags().StringVar(&verifyOpts.Address, "address", "", "Expected signer (defaults to the configured identity)")

	ratifyCmd.Flags().StringVar(&ratifyOpts.Hash, "hash", "", "Manifest hash to ratify")
	ratifyCmd.Flags().StringVar(&ratifyOpts.PipeAKey, "pipe-a-key", "", "Pipe A private key; signs locally")
	ratifyCmd.Flags().StringVar(&ratifyOpts.PipeASignature, "pipe-a-signature", "", "Pipe A signature when its key is held elsewhere")
	ratifyCmd.Flags().StringVar(&ratifyOpts.PipeAAddress, "pipe-a-address", "", "Pipe A address matching --pipe-a-signature")
}
