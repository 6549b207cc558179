package cmd

import (
	"github.com/aspirely/aspirely-cli/pkg/service"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Local cache commands",
	Long: `Inspect or clear the local cache. Lists are cached per user for 30
minutes and generated content for 2 hours.`,
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what is cached",
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.NewCacheService(app).Status(cmd.Context())
	},
}

var cacheClearCmd = &cobra.Command{
	Use:         "clear",
	Short:       "Delete every cached entry",
	Annotations: map[string]string{annotationNoSession: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := service.NewCacheService(app).Clear(cmd.Context())
		return err
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
