package cmd

import (
	"fmt"
	"strings"

	"github.com/aspirely/aspirely-cli/pkg/api"
	clierrors "github.com/aspirely/aspirely-cli/pkg/errors"
	"github.com/aspirely/aspirely-cli/pkg/formatter"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/aspirely/aspirely-cli/pkg/prompter"
	"github.com/aspirely/aspirely-cli/pkg/service"
	"github.com/spf13/cobra"
)

// maxDescriptionLines bounds a pasted job description.
const maxDescriptionLines = 500

var (
	jobsStatus string

	jobCompany     string
	jobTitle       string
	jobURL         string
	jobDescription string
	jobComments    string
	jobStatus      string

	jobPosition int
	jobUncheck  bool
	assumeYes      bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Job tracker commands",
	Long: `Manage the cards of your job tracker. Cards live in the columns
saved, applied, interview, rejected and offer.

Every command that takes a job id also accepts a unique prefix of it.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.NewJobsService(app).List(cmd.Context(), jobsStatus, listOptions())
	},
}

var jobsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Track a new job",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := service.JobInput{
			Company:     jobCompany,
			Title:       jobTitle,
			URL:         jobURL,
			Description: jobDescription,
			Comments:    jobComments,
		}
		if jobStatus != "" {
			st, err := api.ParseJobStatus(jobStatus)
			if err != nil {
				return clierrors.ValidationError("status", err.Error())
			}
			in.Status = st
		}
		if err := promptMissing(&in.Company, "Company: "); err != nil {
			return err
		}
		if err := promptMissing(&in.Title, "Job title: "); err != nil {
			return err
		}

		job, err := service.NewJobsService(app).Add(cmd.Context(), in)
		if err != nil {
			return err
		}
		if output.IsJSON() {
			return output.Print("", job)
		}
		output.PrintSuccess("✓ Tracking %s at %s (%s)", job.JobTitle, job.Company, formatter.ShortID(job.ID))
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a tracked job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := service.NewJobsService(app).Find(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if output.IsJSON() {
			return output.Print("", job)
		}
		if err := output.PrintRecord("Job", formatter.JobFields(*job)); err != nil {
			return err
		}
		if strings.TrimSpace(job.JobDescription) != "" {
			fmt.Fprintln(output.Out)
			output.PrintBody("Description", job.JobDescription)
		}
		return nil
	},
}

var jobsMoveCmd = &cobra.Command{
	Use:   "move <job-id> <status>",
	Short: "Move a job to another column",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := service.NewJobsService(app).Move(cmd.Context(), args[0], args[1], jobPosition)
		if err != nil {
			return err
		}
		output.PrintSuccess("✓ Moved %s at %s to %s", job.JobTitle, job.Company, job.Status)
		return nil
	},
}

var jobsUpdateCmd = &cobra.Command{
	Use:   "update <job-id>",
	Short: "Edit a job's details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch service.JobPatch
		flags := cmd.Flags()
		if flags.Changed("company") {
			patch.Company = &jobCompany
		}
		if flags.Changed("title") {
			patch.Title = &jobTitle
		}
		if flags.Changed("url") {
			patch.URL = &jobURL
		}
		if flags.Changed("description") {
			patch.Description = &jobDescription
		}
		if flags.Changed("comments") {
			patch.Comments = &jobComments
		}

		job, err := service.NewJobsService(app).Update(cmd.Context(), args[0], patch)
		if err != nil {
			return err
		}
		output.PrintSuccess("✓ Updated %s at %s", job.JobTitle, job.Company)
		return nil
	},
}

var jobsCheckCmd = &cobra.Command{
	Use:   "check <job-id> <item>",
	Short: "Tick a checklist item",
	Long: "Tick or, with --undo, clear a checklist item. Items: " +
		strings.Join(api.ChecklistItems, ", "),
	Args: cobra.ExactArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 1 {
			return api.ChecklistItems, cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := service.NewJobsService(app).Check(cmd.Context(), args[0], args[1], !jobUncheck)
		if err != nil {
			return err
		}
		done, total := job.Progress()
		output.PrintSuccess("✓ %s at %s: %d/%d done", job.JobTitle, job.Company, done, total)
		return nil
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Stop tracking a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service.NewJobsService(app)
		job, err := svc.Find(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		ok, err := confirm(fmt.Sprintf("Delete %s at %s?", job.JobTitle, job.Company))
		if err != nil || !ok {
			return err
		}
		if _, err := svc.Delete(cmd.Context(), job.ID); err != nil {
			return err
		}
		output.PrintSuccess("✓ Deleted %s at %s", job.JobTitle, job.Company)
		return nil
	},
}

var jobsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show the tracker and follow live changes",
	Long: `Print the tracker and reprint it whenever a card changes, on this
machine or anywhere else. Set metrics.addr to expose Prometheus metrics
while watching.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return service.NewJobsService(app).Watch(cmd.Context())
	},
}

// promptMissing asks for *v on a terminal when it is empty.
func promptMissing(v *string, label string) error {
	if strings.TrimSpace(*v) != "" || !prompter.Interactive() {
		return nil
	}
	s, err := prompter.PromptString(label)
	if err != nil {
		return err
	}
	*v = s
	return nil
}

// confirm asks before a destructive action unless --yes was given.
func confirm(label string) (bool, error) {
	if assumeYes {
		return true, nil
	}
	if !prompter.Interactive() {
		return false, clierrors.ValidationError("confirmation", "pass --yes to confirm in a non-interactive session")
	}
	ok, err := prompter.PromptConfirm(label, false)
	if err != nil {
		return false, err
	}
	if !ok {
		output.PrintInfo("Cancelled")
	}
	return ok, nil
}

func addJobFields(cmd *cobra.Command) {
	cmd.Flags().StringVar(&jobCompany, "company", "", "Company name")
	cmd.Flags().StringVar(&jobTitle, "title", "", "Job title")
	cmd.Flags().StringVar(&jobURL, "url", "", "Posting URL")
	cmd.Flags().StringVar(&jobDescription, "description", "", "Job description")
	cmd.Flags().StringVar(&jobComments, "comments", "", "Notes")
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Only show one column")

	addJobFields(jobsAddCmd)
	jobsAddCmd.Flags().StringVar(&jobStatus, "status", "", "Column to add to (default saved)")

	addJobFields(jobsUpdateCmd)

	jobsMoveCmd.Flags().IntVar(&jobPosition, "position", -1, "Position in the column (default: last)")
	jobsCheckCmd.Flags().BoolVar(&jobUncheck, "undo", false, "Clear the item instead")
	jobsDeleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsAddCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsMoveCmd)
	jobsCmd.AddCommand(jobsUpdateCmd)
	jobsCmd.AddCommand(jobsCheckCmd)
	jobsCmd.AddCommand(jobsDeleteCmd)
	jobsCmd.AddCommand(jobsWatchCmd)
}
