package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/faceid/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token --identity ID",
	Short: "Issue a bearer token for the face API",
	Long: `Issue an HS256 token signed with server.jwt_secret whose subject is the
identity. The API uses the subject as the identity for register, status and
delete.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("identity", "", "Token subject (required)")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("identity")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret is not configured")
	}
	token, err := auth.IssueToken(cfg.Server.JWTSecret, mustGetString(cmd, "identity"), mustGetDuration(cmd, "ttl"))
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]string{"token": token})
}
