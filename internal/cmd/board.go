package cmd

import (
	"github.com/aspirely/aspirely-cli/pkg/formatter"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/aspirely/aspirely-cli/pkg/service"
	"github.com/spf13/cobra"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Job board commands",
	Long:  "Browse postings found by your job alerts and save them to the tracker",
}

var boardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job board postings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.NewBoardService(app).List(cmd.Context(), listOptions())
	},
}

var boardSaveCmd = &cobra.Command{
	Use:   "save <posting-id>",
	Short: "Save a posting to the job tracker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := service.NewBoardService(app).Save(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if output.IsJSON() {
			return output.Print("", job)
		}
		output.PrintSuccess("✓ Saved %s at %s (%s)", job.JobTitle, job.Company, formatter.ShortID(job.ID))
		return nil
	},
}

var resumesCmd = &cobra.Command{
	Use:   "resumes",
	Short: "Resume commands",
}

var resumesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded resumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.NewResumesService(app).List(cmd.Context(), listOptions())
	},
}

func init() {
	boardCmd.AddCommand(boardListCmd)
	boardCmd.AddCommand(boardSaveCmd)
	resumesCmd.AddCommand(resumesListCmd)
}
