package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"portero.org/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token <identity-id>",
	Short: "Issue an access token for an identity",
	Long: `token signs an access token with the configured secret. The lifecycle
gate still applies when the token is used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		identity, err := a.Service.GetIdentity(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		token, exp, err := a.Tokens.Issue(identity, auth.TokenTypeAccess)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"token":      token,
			"expires_at": exp.Format(time.RFC3339),
		})
	},
}
