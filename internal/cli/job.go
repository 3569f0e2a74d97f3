package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/harun/studio/pkg/jobs"
	"github.com/spf13/cobra"
)

var (
	jobProject string
	jobKind    string
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect job records",
}

var jobShowCmd = &cobra.Command{
	Use:   "show <kind> <job-id>",
	Short: "Print a job record as JSON",
	Long: `Print a job record as JSON. Kind is one of business_report, email,
presentation or wireframe; "report" is accepted for business_report.`,
	Args: cobra.ExactArgs(2),
	RunE: runJobShow,
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobList,
}

func init() {
	jobCmd.PersistentFlags().StringVarP(&jobProject, "project", "p", "", "project id")
	_ = jobCmd.MarkPersistentFlagRequired("project")
	jobListCmd.Flags().StringVar(&jobKind, "kind", "", "only list jobs of this kind")

	jobCmd.AddCommand(jobShowCmd)
	jobCmd.AddCommand(jobListCmd)
	rootCmd.AddCommand(jobCmd)
}

func resolveKind(kind string) (string, error) {
	switch kind {
	case "report", jobs.KindBusinessReport:
		return jobs.KindBusinessReport, nil
	case jobs.KindEmail, jobs.KindPresentation, jobs.KindWireframe:
		return kind, nil
	}
	return "", fmt.Errorf("unknown job kind %q", kind)
}

func runJobShow(cmd *cobra.Command, args []string) error {
	kind, err := resolveKind(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.jobs.Get(cmd.Context(), kind, jobProject, args[1])
	if errors.Is(err, jobs.ErrNotFound) {
		return fmt.Errorf("no %s job %s in project %s", kind, args[1], jobProject)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, rec)
}

func runJobList(cmd *cobra.Command, args []string) error {
	kind := ""
	if jobKind != "" {
		var err error
		if kind, err = resolveKind(jobKind); err != nil {
			return err
		}
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.jobs.List(cmd.Context(), jobProject, kind)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tJOB\tSTATUS\tUPDATED\tMESSAGE")
	for _, rec := range records {
		message := rec.String("status_message")
		if rec.Status == jobs.StatusError {
			message = rec.String("error_message")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.Kind, rec.JobID, rec.Status, rec.UpdatedAt.Local().Format(time.DateTime), message)
	}
	return w.Flush()
}
