package cli

import (
	"github.com/spf13/cobra"

	"feed-attestor/internal/app"
)

var (
	inferAssets []string
	inferJSON   bool
)

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Run one audit round and print the signed results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Infer(cmd.Context(), app.InferOptions{
			Assets: inferAssets,
			JSON:   inferJSON,
		})
	},
}

func init() {
	inferCmd.Flags().StringSliceVar(&inferAssets, "asset", nil, "Restrict to these registry symbols (repeatable or comma separated)")
	inferCmd.Flags().BoolVar(&inferJSON, "json", false, "Print JSON instead of a table")
}
