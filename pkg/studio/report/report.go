// Package report generates data-driven business reports in markdown. The
// agent plans the report, analyzes CSV sources through the CSV analyzer,
// reads context sources and finally writes the markdown file.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/studio/internal/config"
	"github.com/harun/studio/internal/tracing"
	"github.com/harun/studio/pkg/agent"
	"github.com/harun/studio/pkg/csvagent"
	"github.com/harun/studio/pkg/jobs"
	"github.com/harun/studio/pkg/prompts"
	"github.com/harun/studio/pkg/storage"
	"github.com/harun/studio/pkg/studio"
	"github.com/harun/studio/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Tool names.
const (
	ToolPlan    = "plan_business_report"
	ToolAnalyze = "analyze_csv_data"
	ToolSearch  = "search_source_content"
	ToolWrite   = "write_business_report"
)

const (
	// DefaultReportType is used when a request names none.
	DefaultReportType = "executive_summary"

	reportsDir      = "business_reports"
	reportsURLDir   = "business-reports"
	maxSourceChars  = 3000
	truncatedSuffix = "\n\n[Content truncated for context...]"
	analyzeTimeout  = 5 * time.Minute
	defaultTitle    = "Business Report"
)

// Request asks for one business report.
type Request struct {
	ProjectID        string   `json:"project_id"`
	SourceID         string   `json:"source_id,omitempty"`
	JobID            string   `json:"job_id"`
	Direction        string   `json:"direction,omitempty"`
	ReportType       string   `json:"report_type,omitempty"`
	CSVSourceIDs     []string `json:"csv_source_ids,omitempty"`
	ContextSourceIDs []string `json:"context_source_ids,omitempty"`
	FocusAreas       []string `json:"focus_areas,omitempty"`
}

// Chart is a chart produced during analysis.
type Chart struct {
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Section  string `json:"section"`
	URL      string `json:"url"`
}

// Analysis is one completed CSV analysis.
type Analysis struct {
	Query          string   `json:"query"`
	Summary        string   `json:"summary"`
	ChartPaths     []string `json:"chart_paths"`
	SectionContext string   `json:"section_context"`
}

// Config wires a Service.
type Config struct {
	studio.Deps
	Analyzer csvagent.Analyzer
	Override config.AgentOverride
}

// Service runs the business report agent.
type Service struct {
	deps     studio.Deps
	analyzer csvagent.Analyzer
	override config.AgentOverride
	tools    *toolexecutor.ToolExecutor
	logger   zerolog.Logger
}

// state accumulates analyses and charts across one run.
type state struct {
	reportType string

	mu       sync.Mutex
	charts   []Chart
	analyses []Analysis
}

func (s *state) add(a Analysis, charts []Chart) ([]Analysis, []Chart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses = append(s.analyses, a)
	s.charts = append(s.charts, charts...)
	return append([]Analysis{}, s.analyses...), append([]Chart{}, s.charts...)
}

func (s *state) snapshot() ([]Analysis, []Chart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Analysis{}, s.analyses...), append([]Chart{}, s.charts...)
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if err := cfg.Deps.Validate(); err != nil {
		return nil, err
	}
	if cfg.Analyzer == nil {
		return nil, fmt.Errorf("csv analyzer is required")
	}

	s := &Service{
		deps:     cfg.Deps,
		analyzer: cfg.Analyzer,
		override: cfg.Override,
		tools:    toolexecutor.New(),
		logger:   cfg.Logger.With().Str("agent", config.AgentBusinessReport).Logger(),
	}
	s.tools.SetLogger(s.logger)
	if err := s.registerTools(); err != nil {
		return nil, err
	}
	return s, nil
}

// Generate runs the agent for a report job.
func (s *Service) Generate(ctx context.Context, req Request) (agent.RunResult, error) {
	reportType := req.ReportType
	if reportType == "" {
		reportType = DefaultReportType
	}

	s.logger.Info().
		Str("job_id", studio.ShortID(req.JobID)).
		Str("report_type", reportType).
		Int("csv_sources", len(req.CSVSourceIDs)).
		Int("context_sources", len(req.ContextSourceIDs)).
		Msg("Generating business report")

	return studio.Run(ctx, s.deps, studio.Job{
		Kind:         jobs.KindBusinessReport,
		Agent:        config.AgentBusinessReport,
		ProjectID:    req.ProjectID,
		JobID:        req.JobID,
		SourceID:     req.SourceID,
		Override:     s.override,
		StartMessage: "Starting business report generation...",
		Description:  fmt.Sprintf("Generate business report (job: %s)", studio.ShortID(req.JobID)),
		Tools:        s.tools,
		State:        &state{reportType: reportType},
		PromptData: func(pc *prompts.Config) (interface{}, error) {
			return s.promptData(pc, req, reportType), nil
		},
		Metadata: map[string]interface{}{"source_id": req.SourceID, "job_id": req.JobID},
	})
}

type promptData struct {
	ReportTypeDisplay     string
	CSVSourcesSection     string
	ContextSourcesSection string
	FocusAreasSection     string
	DirectionSection      string
}

func (s *Service) promptData(pc *prompts.Config, req Request, reportType string) promptData {
	data := promptData{
		ReportTypeDisplay:     pc.ReportTypeDisplay(reportType),
		CSVSourcesSection:     s.sourcesSection(req.ProjectID, "CSV DATA SOURCES:", req.CSVSourceIDs),
		ContextSourcesSection: s.sourcesSection(req.ProjectID, "CONTEXT SOURCES (optional):", req.ContextSourceIDs),
	}
	if len(req.FocusAreas) > 0 {
		data.FocusAreasSection = "FOCUS ON: " + strings.Join(req.FocusAreas, ", ")
	}
	if req.Direction != "" {
		data.DirectionSection = "NOTE: " + req.Direction
	}
	return data
}

// sourcesSection lists the sources that resolve; unknown ids are skipped.
func (s *Service) sourcesSection(projectID, heading string, ids []string) string {
	lines := []string{heading}
	for _, id := range ids {
		src, err := s.deps.Storage.GetSource(projectID, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("source_id", id).Msg("Skipping unknown source")
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (source_id: %s)", src.Name, src.ID))
	}
	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func (s *Service) registerTools() error {
	defs := []toolexecutor.ToolDefinition{
		{
			Name:        ToolPlan,
			Description: "Plan the report: its title and the sections it will contain.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "title", Type: "string", Description: "Report title"},
				{Name: "sections", Type: "array", Description: "Planned sections", Items: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"title":       map[string]interface{}{"type": "string"},
						"description": map[string]interface{}{"type": "string"},
					},
				}},
			},
			Handler: s.plan,
		},
		{
			Name:        ToolAnalyze,
			Description: "Analyze a CSV source with a focused question. Returns a summary and chart file names.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "csv_source_id", Type: "string", Description: "CSV source to analyze", Required: true},
				{Name: "analysis_query", Type: "string", Description: "Question to answer from the data", Required: true},
				{Name: "section_context", Type: "string", Description: "Report section the analysis is for"},
			},
			Handler: s.analyze,
			Timeout: analyzeTimeout,
		},
		{
			Name:        ToolSearch,
			Description: "Read the text of a non-CSV source for supporting context.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "source_id", Type: "string", Description: "Source to read", Required: true},
				{Name: "search_query", Type: "string", Description: "What you are looking for"},
				{Name: "section_context", Type: "string", Description: "Report section the content is for"},
			},
			Handler: s.search,
		},
		{
			Name:        ToolWrite,
			Description: "Write the final markdown report. Ends the task.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "markdown_content", Type: "string", Description: "Complete report in markdown", Required: true},
				{Name: "charts_included", Type: "array", Description: "Chart file names used in the report", Items: map[string]interface{}{"type": "string"}},
			},
			Terminal: true,
			Handler:  s.write,
		},
	}

	for _, def := range defs {
		if err := s.tools.RegisterTool(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}
	return nil
}

type planParams struct {
	Title    string        `json:"title"`
	Sections []interface{} `json:"sections"`
}

func (s *Service) plan(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	execCtx, _, err := studio.ExecContext[*state](ctx)
	if err != nil {
		return nil, err
	}
	var p planParams
	if err := toolexecutor.Bind(params, &p); err != nil {
		return nil, err
	}
	if p.Title == "" {
		p.Title = defaultTitle
	}
	if p.Sections == nil {
		p.Sections = []interface{}{}
	}

	studio.Progress(ctx, s.deps.Jobs, execCtx, jobs.Fields{
		"title":          p.Title,
		"sections":       p.Sections,
		"status_message": "Report planned, analyzing data...",
	}, s.logger)

	return fmt.Sprintf("Report plan saved. Title: '%s', Sections: %d. Proceed to analyze data and write the report.",
		p.Title, len(p.Sections)), nil
}

type analyzeParams struct {
	CSVSourceID    string `json:"csv_source_id"`
	AnalysisQuery  string `json:"analysis_query"`
	SectionContext string `json:"section_context"`
}

func (s *Service) analyze(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	execCtx, st, err := studio.ExecContext[*state](ctx)
	if err != nil {
		return nil, err
	}
	var p analyzeParams
	if err := toolexecutor.Bind(params, &p); err != nil {
		return nil, err
	}

	studio.Progress(ctx, s.deps.Jobs, execCtx, jobs.Fields{
		"status_message": fmt.Sprintf("Analyzing data for %s...", orDefault(p.SectionContext, "report")),
	}, s.logger)

	ctx = tracing.WithJob(ctx, execCtx.ProjectID, execCtx.JobID)
	result := s.analyzer.Analyze(ctx, execCtx.ProjectID, p.CSVSourceID, p.AnalysisQuery)
	if !result.Success {
		return fmt.Sprintf("Error analyzing data: %s", orDefault(result.Error, "Analysis failed")), nil
	}

	summary := orDefault(result.Summary, "No summary available")
	title := "Data Chart"
	if p.SectionContext != "" {
		title = "Chart for " + p.SectionContext
	}
	charts := make([]Chart, 0, len(result.ImagePaths))
	for _, name := range result.ImagePaths {
		charts = append(charts, Chart{
			Filename: name,
			Title:    title,
			Section:  p.SectionContext,
			URL:      studio.ProjectURL(execCtx.ProjectID, "ai-images", name),
		})
	}
	analyses, allCharts := st.add(Analysis{
		Query:          p.AnalysisQuery,
		Summary:        summary,
		ChartPaths:     append([]string{}, result.ImagePaths...),
		SectionContext: p.SectionContext,
	}, charts)

	studio.Progress(ctx, s.deps.Jobs, execCtx, jobs.Fields{
		"analyses": analyses,
		"charts":   allCharts,
	}, s.logger)

	var b strings.Builder
	fmt.Fprintf(&b, "Analysis complete for: %s\n", orDefault(p.SectionContext, "data analysis"))
	fmt.Fprintf(&b, "\nSummary: %s", summary)
	if len(result.ImagePaths) > 0 {
		fmt.Fprintf(&b, "\n\nGenerated %d chart(s):", len(result.ImagePaths))
		for _, name := range result.ImagePaths {
			fmt.Fprintf(&b, "\n  - %s", name)
		}
		b.WriteString("\n\nUse these exact filenames in your markdown: ![Description](filename.svg)")
	}
	return b.String(), nil
}

type searchParams struct {
	SourceID       string `json:"source_id"`
	SearchQuery    string `json:"search_query"`
	SectionContext string `json:"section_context"`
}

func (s *Service) search(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	execCtx, _, err := studio.ExecContext[*state](ctx)
	if err != nil {
		return nil, err
	}
	var p searchParams
	if err := toolexecutor.Bind(params, &p); err != nil {
		return nil, err
	}

	content, err := s.deps.Storage.ProcessedText(execCtx.ProjectID, p.SourceID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Sprintf("Source content not found for %s", p.SourceID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("error searching source content: %w", err)
	}

	content = studio.Truncate(content, maxSourceChars, truncatedSuffix)
	return fmt.Sprintf("Content from source (for %s):\n\n%s", orDefault(p.SectionContext, "context"), content), nil
}

type writeParams struct {
	MarkdownContent string   `json:"markdown_content"`
	ChartsIncluded  []string `json:"charts_included"`
}

func (s *Service) write(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	execCtx, st, err := studio.ExecContext[*state](ctx)
	if err != nil {
		return nil, err
	}
	var p writeParams
	if err := toolexecutor.Bind(params, &p); err != nil {
		return nil, err
	}

	analyses, charts := st.snapshot()
	markdown := p.MarkdownContent
	for _, c := range charts {
		markdown = strings.ReplaceAll(markdown, "("+c.Filename+")", "("+c.URL+")")
	}
	wordCount := len(strings.Fields(p.MarkdownContent))

	filename := execCtx.JobID + ".md"
	if _, err := s.deps.Storage.WriteStudioFile(ctx, execCtx.ProjectID, []byte(markdown), reportsDir, filename); err != nil {
		return studio.Failed(ctx, s.deps.Jobs, execCtx, fmt.Sprintf("Error saving business report: %v", err), s.logger), nil
	}

	title := defaultTitle
	if rec, err := s.deps.Jobs.Get(ctx, jobs.KindBusinessReport, execCtx.ProjectID, execCtx.JobID); err == nil && rec.String("title") != "" {
		title = rec.String("title")
	}

	markdownURL := studio.StudioURL(execCtx.ProjectID, reportsURLDir, filename)
	previewURL := studio.StudioURL(execCtx.ProjectID, reportsURLDir, execCtx.JobID, "preview")

	if err := s.deps.Jobs.Update(ctx, jobs.KindBusinessReport, execCtx.ProjectID, execCtx.JobID, jobs.Fields{
		"status":         jobs.StatusReady,
		"status_message": "Business report generated successfully!",
		"markdown_file":  filename,
		"markdown_url":   markdownURL,
		"preview_url":    previewURL,
		"word_count":     wordCount,
		"iterations":     execCtx.Iteration,
		"input_tokens":   execCtx.InputTokens,
		"output_tokens":  execCtx.OutputTokens,
		"completed_at":   studio.Now(),
	}); err != nil {
		return studio.Failed(ctx, s.deps.Jobs, execCtx, fmt.Sprintf("Error saving business report: %v", err), s.logger), nil
	}

	s.logger.Info().
		Str("job_id", studio.ShortID(execCtx.JobID)).
		Int("words", wordCount).
		Int("charts", len(charts)).
		Msg("Business report saved")

	return studio.Done(execCtx, map[string]interface{}{
		"title":          title,
		"markdown_file":  filename,
		"markdown_url":   markdownURL,
		"preview_url":    previewURL,
		"charts":         charts,
		"analyses_count": len(analyses),
		"word_count":     wordCount,
		"report_type":    st.reportType,
	}), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
