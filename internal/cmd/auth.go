package cmd

import (
	"github.com/aspirely/aspirely-cli/pkg/service"
	"github.com/spf13/cobra"
)

var (
	loginSessionID   string
	loginClientToken string
	loginUserID      string
	loginForce       bool
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long:  "Sign in to Aspirely and manage the CLI session",
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to Aspirely",
	Long: `Sign in through the browser. The CLI starts a local callback server
and prints a link to the Aspirely sign-in page.

For headless machines, pass an existing session with --session-id and
--client-token instead.`,
	Annotations: map[string]string{annotationNoSession: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := service.NewAuthService(app).Login(cmd.Context(), service.LoginOptions{
			SessionID:   loginSessionID,
			ClientToken: loginClientToken,
			UserID:      loginUserID,
			Force:       loginForce,
		})
		return err
	},
}

var logoutCmd = &cobra.Command{
	Use:         "logout",
	Short:       "Sign out and clear cached data",
	Annotations: map[string]string{annotationNoSession: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.NewAuthService(app).Logout(cmd.Context())
	},
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Display the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.NewAuthService(app).Me(cmd.Context())
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the access token now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.NewAuthService(app).Refresh(cmd.Context())
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the token session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.NewAuthService(app).Status(cmd.Context())
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginSessionID, "session-id", "", "Existing identity session id (headless sign-in)")
	loginCmd.Flags().StringVar(&loginClientToken, "client-token", "", "Client token for --session-id")
	loginCmd.Flags().StringVar(&loginUserID, "user-id", "", "Identity user id (read from the token when omitted)")
	loginCmd.Flags().BoolVar(&loginForce, "force", false, "Sign in again even if already signed in")
	loginCmd.MarkFlagsRequiredTogether("session-id", "client-token")

	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(meCmd)
	authCmd.AddCommand(refreshCmd)
	authCmd.AddCommand(authStatusCmd)
}
