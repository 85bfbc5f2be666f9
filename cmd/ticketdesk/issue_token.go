package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticketdesk/internal/auth"
	"github.com/spec-kit/ticketdesk/internal/config"
	"github.com/spec-kit/ticketdesk/internal/domain"
)

var (
	issueTokenSubject string
	issueTokenID      string
	issueTokenRole    string
	issueTokenName    string
)

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token",
	Short: "Sign a bearer token for the HTTP ingress",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		subject, role, err := parseTokenSubject(issueTokenSubject, issueTokenRole)
		if err != nil {
			return err
		}
		tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes, cfg.Auth.Issuer)
		token, expiresAt, err := tokens.GenerateToken(issueTokenID, subject, role, issueTokenName)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
		return nil
	},
}

func parseTokenSubject(subject, role string) (domain.SubjectType, *domain.StaffRole, error) {
	switch strings.ToLower(subject) {
	case "bridge":
		return domain.SubjectTypeBridge, nil, nil
	case "staff":
		r := domain.StaffRole(strings.ToUpper(role))
		if r != domain.StaffRoleAgent && r != domain.StaffRoleAdmin {
			return "", nil, fmt.Errorf("invalid role %q: use agent or admin", role)
		}
		return domain.SubjectTypeStaff, &r, nil
	default:
		return "", nil, fmt.Errorf("invalid subject %q: use bridge or staff", subject)
	}
}

func init() {
	issueTokenCmd.Flags().StringVar(&issueTokenSubject, "subject", "bridge", "Token subject: bridge or staff")
	issueTokenCmd.Flags().StringVar(&issueTokenID, "id", "", "Subject id (bridge name or staff user id)")
	issueTokenCmd.Flags().StringVar(&issueTokenRole, "role", "agent", "Staff role: agent or admin")
	issueTokenCmd.Flags().StringVar(&issueTokenName, "name", "", "Display name carried in the token")
	_ = issueTokenCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(issueTokenCmd)
}
