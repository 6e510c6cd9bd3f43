package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"helpdesk-sync/config"
	"helpdesk-sync/pkg/rbac"
	"helpdesk-sync/pkg/util"

	"github.com/spf13/cobra"
)

var (
	tokenUserID int64
	tokenRole   string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the HTTP API (admin routes, dashboard websocket)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return issueToken(cmd.OutOrStdout(), cfg.JWT.Secret, tokenUserID, tokenRole, tokenTTL)
	},
}

func issueToken(out io.Writer, secret string, userID int64, role string, ttl time.Duration) error {
	if secret == "" {
		return errors.New("jwt.secret is not configured")
	}
	if userID <= 0 {
		return errors.New("--user must be a positive id")
	}
	if !rbac.IsKnownRole(role) {
		return fmt.Errorf("unknown role %q (user, agent, admin)", role)
	}
	if ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	tok, err := util.GenerateJWT(userID, role, secret, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, tok)
	return err
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUserID, "user", 0, "user id carried in the token")
	tokenCmd.Flags().StringVar(&tokenRole, "role", rbac.RoleAdmin, "role: user, agent or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
