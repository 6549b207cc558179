package cmd

import (
	"github.com/aspirely/aspirely-cli/pkg/service"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Profile commands",
	Long:  "View your Aspirely profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show your profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.NewProfileService(app).Show(cmd.Context(), listOptions())
	},
}

var profileInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or reload your backend profile",
	Long: `Look up the backend account for the signed-in user and create it on
first use. This normally happens automatically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := service.NewProfileService(app).Init(cmd.Context())
		return err
	},
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Show your AI credit balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.NewCreditsService(app).Show(cmd.Context(), listOptions())
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileInitCmd)
}
