package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll --identity ID image...",
	Short: "Enroll face images under an identity",
	Long: `Enroll replaces the identity's face samples with the faces found in the
given images and retrains the model. Every image must show exactly one face;
images that don't are reported and skipped.

Examples:
  facectl enroll --identity alice alice1.jpg alice2.jpg alice3.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.Flags().String("identity", "", "Identity to enroll (required)")
	_ = enrollCmd.MarkFlagRequired("identity")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	identity := mustGetString(cmd, "identity")
	if identity == "" {
		return errors.New("--identity must not be empty")
	}

	images, err := readImages(args)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Service.Enroll(cmd.Context(), identity, images)
	if res != nil {
		if perr := printJSON(cmd, res); perr != nil {
			return perr
		}
	}
	if err != nil {
		return fmt.Errorf("enroll %s: %w", identity, err)
	}
	return nil
}

func readImages(paths []string) ([][]byte, error) {
	images := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		images = append(images, data)
	}
	return images, nil
}
