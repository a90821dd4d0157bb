package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"portero.org/internal/auth"
)

// PasswordEnv supplies the password when --password is not given.
const PasswordEnv = "PORTEROCTL_PASSWORD"

var (
	identityName     string
	identityEmail    string
	identityRole     string
	identityPassword string
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage identities",
}

var identityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an identity, typically the first administrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		password := identityPassword
		if password == "" {
			password = os.Getenv(PasswordEnv)
		}
		if password == "" {
			return errors.New("password required: pass --password or set " + PasswordEnv)
		}
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		identity, err := a.Service.CreateIdentity(cmd.Context(), auth.NewIdentityInput{
			DisplayName: identityName,
			Email:       identityEmail,
			Password:    password,
			Role:        identityRole,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, identity)
	},
}

var identityUnlockCmd = &cobra.Command{
	Use:   "unlock <identity-id>",
	Short: "Clear a lockout and the failed attempt counter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		identity, err := a.Service.Unlock(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, identity)
	},
}

func init() {
	f := identityCreateCmd.Flags()
	f.StringVar(&identityName, "name", "", "display name")
	f.StringVar(&identityEmail, "email", "", "login email")
	f.StringVar(&identityRole, "role", auth.RoleAdmin, "role code")
	f.StringVar(&identityPassword, "password", "", "initial password (or "+PasswordEnv+")")
	_ = identityCreateCmd.MarkFlagRequired("name")
	_ = identityCreateCmd.MarkFlagRequired("email")
	identityCmd.AddCommand(identityCreateCmd, identityUnlockCmd)
}
