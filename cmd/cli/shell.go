package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/VoxCart/pkg/voxcart"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/session"
)

var (
	shellRegister string
	shellLogin    string
	shellSamples  []string
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open a shopping session and type commands",
	Long: `Open a session by registering or logging in with recordings, then type
commands as they would be spoken. Type ":limpar" to empty the cart and
"sair" to leave.

Examples:
  voxcart shell --register ana --sample a1.wav --sample a2.wav --sample a3.wav
  voxcart shell --login ana --sample query.wav`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (shellRegister == "") == (shellLogin == "") {
			return fmt.Errorf("use exactly one of --register or --login")
		}
		if len(shellSamples) == 0 {
			return fmt.Errorf("at least one --sample is required")
		}

		svc, err := createService()
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		ctx := context.Background()
		var id string
		if shellRegister != "" {
			id, err = registerSession(ctx, svc, shellRegister, shellSamples)
		} else {
			id, err = loginSession(ctx, svc, shellLogin, shellSamples[0])
		}
		if err != nil {
			return err
		}

		return runShell(ctx, svc, id)
	},
}

func printReply(reply *session.Reply) {
	for _, msg := range reply.Messages {
		fmt.Printf("🔊 %s\n", msg)
	}
}

func registerSession(ctx context.Context, svc voxcart.Service, username string, samples []string) (string, error) {
	reply, err := svc.StartRegistration(ctx, username)
	if reply != nil {
		printReply(reply)
	}
	if err != nil {
		return "", err
	}
	id := reply.Session.ID

	for _, path := range samples {
		clip, err := svc.LoadClip(ctx, path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		if reply, err = svc.SubmitEnrollmentSample(ctx, id, clip); reply != nil {
			printReply(reply)
		}
		if err != nil {
			return "", err
		}
		if reply.Session.State == session.Authenticated {
			return id, nil
		}
	}
	return "", fmt.Errorf("registration needs %d samples, got %d", reply.Session.Samples, len(samples))
}

func loginSession(ctx context.Context, svc voxcart.Service, username, sample string) (string, error) {
	reply, err := svc.StartLogin(ctx, username)
	if reply != nil {
		printReply(reply)
	}
	if err != nil {
		return "", err
	}

	clip, err := svc.LoadClip(ctx, sample)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", sample, err)
	}
	reply, err = svc.SubmitLoginSample(ctx, reply.Session.ID, clip)
	if reply != nil {
		printReply(reply)
		if reply.Verification != nil {
			fmt.Printf("   Score: %.2f (threshold %.2f)\n", reply.Verification.Score, reply.Verification.Threshold)
		}
	}
	if err != nil {
		return "", err
	}
	return reply.Session.ID, nil
}

func runShell(ctx context.Context, svc voxcart.Service, id string) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("\n🎤 > ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("🎤 > ")
			continue
		}

		var reply *session.Reply
		var err error
		if line == ":limpar" {
			reply, err = svc.ClearCart(id)
		} else {
			reply, err = svc.HandleCommand(ctx, id, line)
		}
		if reply == nil {
			return err
		}
		printReply(reply)
		if err != nil {
			fmt.Printf("⚠️  %v\n", err)
		}
		if reply.Session.State == session.Closed {
			return nil
		}
		fmt.Print("🎤 > ")
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	_, err := svc.Logout(ctx, id)
	return err
}

func init() {
	shellCmd.Flags().StringVar(&shellRegister, "register", "", "Register a new user")
	shellCmd.Flags().StringVar(&shellLogin, "login", "", "Log in as an enrolled user")
	shellCmd.Flags().StringArrayVar(&shellSamples, "sample", nil, "WAV recording (repeat for registration)")
	rootCmd.AddCommand(shellCmd)
}
