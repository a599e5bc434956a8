package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/stockledger-backend/pkg/auth"
	"github.com/angelmondragon/stockledger-backend/pkg/config"
)

func main() {
	_ = godotenv.Load()

	if err := newMintCmd(config.Load).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type mintOptions struct {
	userID      string
	permissions []string
	superuser   bool
}

// newMintCmd issues an operator access token signed with the configured JWT
// secret. Tokens are printed to stdout so they can be piped into a client.
func newMintCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	opts := &mintOptions{}
	cmd := &cobra.Command{
		Use:   "mint-token",
		Short: "Mint an operator access token",
		Example: "  mint-token --perm sales.read --perm sales.write\n" +
			"  mint-token --superuser --user 6f1c...",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return mint(cmd.OutOrStdout(), cfg.JWT, time.Now(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.userID, "user", "", "operator user id (random when empty)")
	cmd.Flags().StringSliceVar(&opts.permissions, "perm", nil, "resource.action permission, repeatable")
	cmd.Flags().BoolVar(&opts.superuser, "superuser", false, "grant every permission")
	return cmd
}

func mint(out io.Writer, cfg config.JWTConfig, now time.Time, opts *mintOptions) error {
	userID := uuid.New()
	if raw := strings.TrimSpace(opts.userID); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
		userID = parsed
	}
	if !opts.superuser && len(opts.permissions) == 0 {
		return fmt.Errorf("at least one --perm is required unless --superuser is set")
	}

	token, err := auth.MintAccessToken(cfg, now, auth.AccessTokenPayload{
		UserID:      userID,
		IsSuperuser: opts.superuser,
		Permissions: opts.permissions,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
