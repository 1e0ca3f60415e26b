package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status --identity ID",
	Short: "Show whether an identity has an enrolled face profile",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("identity", "", "Identity to look up (required)")
	_ = statusCmd.MarkFlagRequired("identity")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Service.Status(cmd.Context(), mustGetString(cmd, "identity"))
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}
