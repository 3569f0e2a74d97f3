package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/studio/internal/config"
	"github.com/harun/studio/internal/tracing"
	"github.com/harun/studio/pkg/agent"
	"github.com/harun/studio/pkg/jobs"
	"github.com/harun/studio/pkg/storage"
	"github.com/harun/studio/pkg/studio/email"
	"github.com/harun/studio/pkg/studio/presentation"
	"github.com/harun/studio/pkg/studio/report"
	"github.com/harun/studio/pkg/studio/wireframe"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// jobOptions are the flags shared by every artifact command.
type jobOptions struct {
	project   string
	source    string
	job       string
	direction string
}

func (o *jobOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.project, "project", "p", "", "project id")
	f.StringVarP(&o.source, "source", "s", "", "source the artifact is built from")
	f.StringVar(&o.job, "job", "", "job id (generated when empty)")
	f.StringVarP(&o.direction, "direction", "d", "", "extra instructions for the agent")
	_ = cmd.MarkFlagRequired("project")
}

func (o *jobOptions) jobID() (string, error) {
	if o.job != "" {
		return o.job, nil
	}
	return newID()
}

func newID() (string, error) {
	return gonanoid.Generate(idAlphabet, 16)
}

var (
	reportOpts       jobOptions
	reportType       string
	reportCSV        []string
	reportContext    []string
	reportFocusAreas []string

	emailOpts        jobOptions
	presentationOpts jobOptions
	wireframeOpts    jobOptions
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a business report",
	Long: `Run the business report agent. It plans the report, analyzes CSV sources
with the data analysis agent, searches context sources and writes a Markdown
report with charts.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

var emailCmd = &cobra.Command{
	Use:   "email",
	Short: "Generate an HTML email template",
	Long: `Run the email agent. It plans the template, generates section images
when an image API key is configured and writes the HTML code.`,
	Args: cobra.NoArgs,
	RunE: runEmail,
}

var presentationCmd = &cobra.Command{
	Use:   "presentation",
	Short: "Generate an HTML slide deck",
	Long: `Run the presentation agent. It plans the deck, writes shared styles and
one HTML file per slide, then finalizes the slide list.`,
	Args: cobra.NoArgs,
	RunE: runPresentation,
}

var wireframeCmd = &cobra.Command{
	Use:   "wireframe",
	Short: "Generate an Excalidraw wireframe",
	Long:  `Run the wireframe agent, which lays out a single Excalidraw scene.`,
	Args:  cobra.NoArgs,
	RunE:  runWireframe,
}

func init() {
	reportOpts.bind(reportCmd)
	reportCmd.Flags().StringVar(&reportType, "type", "", "report type (default executive_summary)")
	reportCmd.Flags().StringSliceVar(&reportCSV, "csv", nil, "CSV source ids to analyze")
	reportCmd.Flags().StringSliceVar(&reportContext, "context", nil, "text source ids to search for context")
	reportCmd.Flags().StringSliceVar(&reportFocusAreas, "focus", nil, "focus areas for the report")

	emailOpts.bind(emailCmd)
	presentationOpts.bind(presentationCmd)
	wireframeOpts.bind(wireframeCmd)

	rootCmd.AddCommand(reportCmd, emailCmd, presentationCmd, wireframeCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	return runArtifact(cmd, &reportOpts, jobs.KindBusinessReport, func(ctx context.Context, a *app, jobID string) (agent.RunResult, error) {
		svc, err := report.New(report.Config{
			Deps:     a.deps(),
			Analyzer: a.csv,
			Override: a.cfg.Override(config.AgentBusinessReport),
		})
		if err != nil {
			return agent.RunResult{}, err
		}
		return svc.Generate(ctx, report.Request{
			ProjectID:        reportOpts.project,
			SourceID:         reportOpts.source,
			JobID:            jobID,
			Direction:        reportOpts.direction,
			ReportType:       reportType,
			CSVSourceIDs:     reportCSV,
			ContextSourceIDs: reportContext,
			FocusAreas:       reportFocusAreas,
		})
	})
}

func runEmail(cmd *cobra.Command, args []string) error {
	return runArtifact(cmd, &emailOpts, jobs.KindEmail, func(ctx context.Context, a *app, jobID string) (agent.RunResult, error) {
		svc, err := email.New(email.Config{
			Deps:     a.deps(),
			Images:   a.images(ctx),
			Override: a.cfg.Override(config.AgentEmail),
		})
		if err != nil {
			return agent.RunResult{}, err
		}
		return svc.Generate(ctx, email.Request{
			ProjectID: emailOpts.project,
			SourceID:  emailOpts.source,
			JobID:     jobID,
			Direction: emailOpts.direction,
		})
	})
}

func runPresentation(cmd *cobra.Command, args []string) error {
	return runArtifact(cmd, &presentationOpts, jobs.KindPresentation, func(ctx context.Context, a *app, jobID string) (agent.RunResult, error) {
		svc, err := presentation.New(presentation.Config{
			Deps:     a.deps(),
			Override: a.cfg.Override(config.AgentPresentation),
		})
		if err != nil {
			return agent.RunResult{}, err
		}
		return svc.Generate(ctx, presentation.Request{
			ProjectID: presentationOpts.project,
			SourceID:  presentationOpts.source,
			JobID:     jobID,
			Direction: presentationOpts.direction,
		})
	})
}

func runWireframe(cmd *cobra.Command, args []string) error {
	return runArtifact(cmd, &wireframeOpts, jobs.KindWireframe, func(ctx context.Context, a *app, jobID string) (agent.RunResult, error) {
		svc, err := wireframe.New(wireframe.Config{
			Deps:     a.deps(),
			Override: a.cfg.Override(config.AgentWireframe),
		})
		if err != nil {
			return agent.RunResult{}, err
		}
		return svc.Generate(ctx, wireframe.Request{
			ProjectID: wireframeOpts.project,
			SourceID:  wireframeOpts.source,
			JobID:     jobID,
			Direction: wireframeOpts.direction,
		})
	})
}

type generateFunc func(ctx context.Context, a *app, jobID string) (agent.RunResult, error)

// runArtifact creates the pending job record, runs one agent until it
// finishes or the process is interrupted, and prints the final record.
func runArtifact(cmd *cobra.Command, opts *jobOptions, kind string, generate generateFunc) error {
	jobID, err := opts.jobID()
	if err != nil {
		return fmt.Errorf("failed to generate job id: %w", err)
	}
	if err := storage.ValidateComponent(opts.project); err != nil {
		return fmt.Errorf("invalid project id: %w", err)
	}
	if err := storage.ValidateComponent(jobID); err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.withAgents(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = tracing.NewRequestContext(ctx)

	pending := jobs.Fields{
		"status":         jobs.StatusPending,
		"status_message": "Queued",
		"source_id":      opts.source,
	}
	if opts.direction != "" {
		pending["direction"] = opts.direction
	}
	if err := a.jobs.Update(ctx, kind, opts.project, jobID, pending); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	a.logger.Info().Str("kind", kind).Str("project_id", opts.project).Str("job_id", jobID).Msg("Job created")

	result, runErr := generate(ctx, a, jobID)

	final := context.WithoutCancel(ctx)
	if rec, err := a.jobs.Get(final, kind, opts.project, jobID); err == nil {
		if err := a.hooks.JobFinished(final, rec); err != nil {
			a.logger.Warn().Err(err).Str("job_id", jobID).Msg("Job hook failed")
		}
		if err := printJSON(cmd, rec); err != nil {
			return err
		}
	}

	if runErr != nil {
		return fmt.Errorf("%s job %s failed: %w", kind, jobID, runErr)
	}
	if !result.Success {
		return fmt.Errorf("%s job %s failed: %s", kind, jobID, result.ErrorMessage)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
