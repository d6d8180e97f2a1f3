package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"lead-board/api"
)

var (
	tokenCount  int
	tokenPrefix string
	tokenStart  int
	tokenTTL    time.Duration
	tokenOutput string
)

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Mint bearer tokens for shared-secret auth",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Auth.SharedSecret == "" {
			return errors.New("LOCAL_AUTH_SHARED_SECRET is not set")
		}
		if tokenCount < 1 || tokenStart < 1 {
			return errors.New("count and start must be at least 1")
		}
		if len(args) > 0 && tokenCount > 1 {
			return errors.New("an explicit user id cannot be combined with --count")
		}
		tokens := make([]string, tokenCount)
		for i := range tokens {
			userID := tokenPrefix
			switch {
			case len(args) > 0:
				userID = args[0]
			case tokenCount > 1:
				userID = fmt.Sprintf("%s-%d", tokenPrefix, tokenStart+i)
			}
			tok, err := api.SignSharedSecretToken([]byte(cfg.Auth.SharedSecret), userID, cfg.Auth.Audience, tokenTTL)
			if err != nil {
				return err
			}
			tokens[i] = tok
		}
		if tokenOutput != "" {
			if err := writeTokens(tokenOutput, tokens); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), tokens[0])
		return nil
	},
}

func init() {
	tokenCmd.Flags().IntVar(&tokenCount, "count", 1, "number of tokens to mint")
	tokenCmd.Flags().StringVar(&tokenPrefix, "prefix", "broker", "user id, or prefix when --count > 1")
	tokenCmd.Flags().IntVar(&tokenStart, "start", 1, "first index for generated user ids")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenOutput, "output", "", "also write all tokens to this file as a JSON array")
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.ConfigStd.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
