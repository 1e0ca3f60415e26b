package main

import (
	"github.com/spf13/cobra"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Rebuild the model artifact from the stored samples",
	Args:  cobra.NoArgs,
	RunE:  runRetrain,
}

func init() {
	rootCmd.AddCommand(retrainCmd)
}

func runRetrain(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Service.Retrain(cmd.Context()); err != nil {
		return err
	}
	return printJSON(cmd, map[string]bool{"trained": a.Service.Trained()})
}
