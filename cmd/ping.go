package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/moodscan/internal/classifier"
	"github.com/andresmejia3/moodscan/internal/utils"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the prediction backend is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := classifier.NewClient(Cfg.Endpoint, Cfg.RequestTimeout)
		banner, err := client.Health(cmd.Context())
		if err != nil {
			utils.ShowError("Prediction backend unreachable", err, nil)
			return errReported
		}
		fmt.Fprintf(os.Stdout, "🟢 %s: %s\n", client.BaseURL, banner)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
