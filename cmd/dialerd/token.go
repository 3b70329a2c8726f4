package main

import (
	"fmt"
	"os"
	"time"

	"dialer-platform/internal/auth"
	"dialer-platform/internal/config"
	"dialer-platform/internal/rbac"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// tokenCmd issues access tokens signed with JWT_SECRET. Production identities come from
// the external user system; this is for local runs and smoke tests.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			user := viper.GetString("token-user")
			role := viper.GetString("token-role")
			if user == "" {
				return fmt.Errorf("--user required")
			}
			switch role {
			case rbac.RoleAgent, rbac.RoleSupervisor, rbac.RoleAdmin:
			default:
				return fmt.Errorf("--role must be agent, supervisor or admin, got %q", role)
			}

			m, err := auth.NewManager(config.AuthConfig{
				JWTSecret:   os.Getenv("JWT_SECRET"),
				JWTIssuer:   os.Getenv("JWT_ISSUER"),
				JWTAudience: os.Getenv("JWT_AUDIENCE"),
			})
			if err != nil {
				return err
			}
			tok, err := m.Issue(time.Now(), user, role, viper.GetDuration("token-ttl"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"user_id": user, "role": role, "access_token": tok})
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().String("user", "", "user id (the agent id for agents)")
	cmd.Flags().String("role", rbac.RoleAgent, "agent, supervisor or admin")
	cmd.Flags().Duration("ttl", 8*time.Hour, "token lifetime")
	_ = viper.BindPFlag("token-user", cmd.Flags().Lookup("user"))
	_ = viper.BindPFlag("token-role", cmd.Flags().Lookup("role"))
	_ = viper.BindPFlag("token-ttl", cmd.Flags().Lookup("ttl"))
	return cmd
}
