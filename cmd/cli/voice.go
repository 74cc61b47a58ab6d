package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/VoxCart/pkg/logger"
	"github.com/himanishpuri/VoxCart/pkg/models"
)

var enrollAdmin bool

var enrollCmd = &cobra.Command{
	Use:   "enroll <username> <sample.wav>...",
	Short: "Enroll a speaker from voice recordings",
	Long: `Enroll a speaker from two or more recordings of a few seconds each.
Recordings that are too short or silent are skipped; at least two must be usable.

Examples:
  voxcart enroll ana a1.wav a2.wav a3.wav
  voxcart enroll --admin carlos c1.wav c2.wav c3.wav`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.GetLogger()
		username, paths := args[0], args[1:]

		svc, err := createService()
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		access := models.AccessLevelUser
		if enrollAdmin {
			access = models.AccessLevelAdmin
		}

		fmt.Printf("🎙️  Training voice model from %d recording(s)...\n", len(paths))
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		user, err := svc.EnrollFiles(ctx, username, paths, access)
		if err != nil {
			return fmt.Errorf("enrollment failed: %w", err)
		}

		fmt.Println("\n✅ Speaker enrolled!")
		fmt.Printf("   Username: %s\n", user.Username)
		fmt.Printf("   Access:   %s\n", user.AccessLevel)
		log.Infof("Enrolled %s from %d recordings", user.Username, len(paths))
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <username> <clip.wav>",
	Short: "Check a recording against an enrolled speaker",
	Long: `Score a recording against the speaker's voice model. Exits non-zero when
the score falls below the threshold.

Examples:
  voxcart verify ana query.wav
  voxcart --threshold -45 verify ana query.wav`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := createService()
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		fmt.Println("🔍 Analyzing voice...")
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		v, err := svc.VerifyFile(ctx, args[0], args[1])
		if err != nil && !errors.Is(err, models.ErrRejected) {
			return err
		}

		fmt.Printf("\n   Score:     %.2f\n", v.Score)
		fmt.Printf("   Threshold: %.2f\n", v.Threshold)
		if !v.Accepted {
			return fmt.Errorf("voice does not match %s", args[0])
		}
		fmt.Printf("\n✅ Voice matches %s\n", args[0])
		return nil
	},
}

func init() {
	enrollCmd.Flags().BoolVar(&enrollAdmin, "admin", false, "Grant catalog administration")
	rootCmd.AddCommand(enrollCmd, verifyCmd)
}
