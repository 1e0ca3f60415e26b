package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var revokeCmd = &cobra.Command{
	Use:     "revoke --identity ID",
	Aliases: []string{"delete"},
	Short:   "Delete an identity's face profile and retrain",
	Args:    cobra.NoArgs,
	RunE:    runRevoke,
}

func init() {
	rootCmd.AddCommand(revokeCmd)
	revokeCmd.Flags().String("identity", "", "Identity to revoke (required)")
	_ = revokeCmd.MarkFlagRequired("identity")
}

func runRevoke(cmd *cobra.Command, _ []string) error {
	identity := mustGetString(cmd, "identity")

	a, err := openApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Service.Revoke(cmd.Context(), identity)
	if err != nil {
		return fmt.Errorf("revoke %s: %w", identity, err)
	}
	return printJSON(cmd, res)
}
