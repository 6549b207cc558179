package cmd

import (
	"fmt"
	"strings"

	"github.com/aspirely/aspirely-cli/pkg/api"
	"github.com/aspirely/aspirely-cli/pkg/formatter"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/aspirely/aspirely-cli/pkg/prompter"
	"github.com/aspirely/aspirely-cli/pkg/service"
	"github.com/spf13/cobra"
)

// contentFlag is an extra generate flag of one content kind.
type contentFlag struct {
	name  string
	usage string
	set   func(req *service.GenerateRequest, v string)
}

// newContentCmd builds the list/show/generate/delete tree for one kind
// of generated content.
func newContentCmd[T api.Content](use, short string, kind service.ContentKind[T], extra ...contentFlag) *cobra.Command {
	noun := strings.ToLower(kind.Title)

	root := &cobra.Command{
		Use:   use,
		Short: short,
		Long: fmt.Sprintf(`Generate and browse %ss. Generation runs on Aspirely
and costs one credit; use --wait to follow it to completion.`, noun),
	}

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List your %ss", noun),
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.NewContentService(app, kind).List(cmd.Context(), listOptions())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: fmt.Sprintf("Show a %s", noun),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.NewContentService(app, kind).Show(cmd.Context(), args[0])
		},
	})

	var (
		req    service.GenerateRequest
		values = make([]string, len(extra))
	)
	generate := &cobra.Command{
		Use:   "generate",
		Short: fmt.Sprintf("Generate a %s", noun),
		Long: fmt.Sprintf(`Generate a %s for a job. Pass --job with a tracked job id to
reuse its company, title and description, or describe the job with
--company, --title and --description. Without --description on a
terminal, the description is read until an empty line.`, noun),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := req
			for i, f := range extra {
				f.set(&r, values[i])
			}
			if r.JobRef == "" {
				if err := promptMissing(&r.Company, "Company: "); err != nil {
					return err
				}
				if err := promptMissing(&r.Title, "Job title: "); err != nil {
					return err
				}
				if r.Description == "" && prompter.Interactive() {
					desc, err := prompter.PromptMultilineString("Job description (end with an empty line):", maxDescriptionLines)
					if err != nil {
						return err
					}
					r.Description = desc
				}
			}

			row, err := service.NewContentService(app, kind).Generate(cmd.Context(), r)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.Print("", row)
			}
			return nil
		},
	}
	generate.Flags().StringVar(&req.JobRef, "job", "", "Tracked job id or prefix")
	generate.Flags().StringVar(&req.Company, "company", "", "Company name")
	generate.Flags().StringVar(&req.Title, "title", "", "Job title")
	generate.Flags().StringVar(&req.Description, "description", "", "Job description")
	generate.Flags().BoolVarP(&req.Wait, "wait", "w", false, "Wait for the result and print it")
	for i, f := range extra {
		generate.Flags().StringVar(&values[i], f.name, "", f.usage)
	}
	root.AddCommand(generate)

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: fmt.Sprintf("Delete a %s", noun),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := service.NewContentService(app, kind)
			row, err := svc.Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			meta := row.Meta()
			ok, err := confirm(fmt.Sprintf("Delete %s for %s at %s?", noun, meta.JobTitle, meta.CompanyName))
			if err != nil || !ok {
				return err
			}
			if _, err := svc.Delete(cmd.Context(), row.GetID()); err != nil {
				return err
			}
			output.PrintSuccess("✓ Deleted %s %s", noun, formatter.ShortID(row.GetID()))
			return nil
		},
	}
	del.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	root.AddCommand(del)

	return root
}

func init() {
	rootCmd.AddCommand(newContentCmd("letters", "Cover letter commands", service.CoverLetters,
		contentFlag{"tone", "Tone of the letter, e.g. professional or warm", func(r *service.GenerateRequest, v string) { r.Tone = v }},
	))
	rootCmd.AddCommand(newContentCmd("prep", "Interview prep commands", service.InterviewPreps,
		contentFlag{"type", "Interview type, e.g. behavioral or technical", func(r *service.GenerateRequest, v string) { r.InterviewType = v }},
	))
	rootCmd.AddCommand(newContentCmd("analyses", "Company analysis commands", service.CompanyAnalyses,
		contentFlag{"company-url", "Company website to analyse", func(r *service.GenerateRequest, v string) { r.CompanyURL = v }},
	))
	rootCmd.AddCommand(newContentCmd("linkedin", "LinkedIn post commands", service.LinkedInPosts,
		contentFlag{"topic", "What the post should be about", func(r *service.GenerateRequest, v string) { r.Topic = v }},
	))
}
