// Package csvagent answers questions about one CSV source with a nested
// agent run. The run can describe and aggregate the table, draw SVG charts
// into the project's image directory, and ends with submit_analysis.
package csvagent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/harun/studio/internal/config"
	"github.com/harun/studio/internal/tracing"
	"github.com/harun/studio/pkg/agent"
	"github.com/harun/studio/pkg/prompts"
	"github.com/harun/studio/pkg/storage"
	"github.com/harun/studio/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Result is the outcome of one analysis.
type Result struct {
	Success    bool     `json:"success"`
	Summary    string   `json:"summary,omitempty"`
	ImagePaths []string `json:"image_paths"`
	Error      string   `json:"error,omitempty"`
}

// Analyzer answers a question about a CSV source.
type Analyzer interface {
	Analyze(ctx context.Context, projectID, sourceID, query string) Result
}

// Runner executes agent definitions.
type Runner interface {
	Run(ctx context.Context, def *agent.Definition, task agent.Task) (agent.RunResult, error)
}

// Config wires the analyzer's collaborators.
type Config struct {
	Runner   Runner
	Storage  *storage.Store
	Prompts  *prompts.Loader
	Override config.AgentOverride
	Logger   zerolog.Logger
}

// Agent is the CSV analyzer sub-agent.
type Agent struct {
	runner   Runner
	storage  *storage.Store
	prompts  *prompts.Loader
	override config.AgentOverride
	logger   zerolog.Logger
	tools    *toolexecutor.ToolExecutor
}

// New creates the analyzer and registers its tools.
func New(cfg Config) (*Agent, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("prompt loader is required")
	}

	a := &Agent{
		runner:   cfg.Runner,
		storage:  cfg.Storage,
		prompts:  cfg.Prompts,
		override: cfg.Override,
		logger:   cfg.Logger.With().Str("agent", config.AgentCSVAnalyzer).Logger(),
		tools:    toolexecutor.New(),
	}
	a.tools.SetLogger(a.logger)
	if err := a.registerTools(); err != nil {
		return nil, err
	}
	return a, nil
}

// analysis is the mutable state of one Analyze call.
type analysis struct {
	projectID string
	source    *storage.Source
	table     *Table

	mu     sync.Mutex
	charts []string
}

func (s *analysis) addChart(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charts = append(s.charts, name)
	return len(s.charts)
}

func (s *analysis) chartList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.charts...)
}

// Outcome is the terminal output of an analysis run.
type Outcome struct {
	Summary    string   `json:"summary"`
	ImagePaths []string `json:"image_paths"`
}

// ToolMessage implements toolexecutor.Messager.
func (o *Outcome) ToolMessage() string { return "Analysis submitted." }

// Analyze runs the sub-agent for one question. Failures are reported in the
// result rather than returned.
func (a *Agent) Analyze(ctx context.Context, projectID, sourceID, query string) Result {
	ctx = tracing.PropagateToSubAgent(ctx, config.AgentCSVAnalyzer)
	logger := tracing.LoggerFromContext(ctx, a.logger).With().Str("source_id", sourceID).Logger()

	fail := func(format string, args ...interface{}) Result {
		msg := fmt.Sprintf(format, args...)
		logger.Warn().Msg(msg)
		return Result{Error: msg, ImagePaths: []string{}}
	}

	if strings.TrimSpace(query) == "" {
		return fail("analysis query is required")
	}

	rc, src, err := a.storage.OpenRawSource(projectID, sourceID)
	if err != nil {
		return fail("CSV source %s is not available: %v", sourceID, err)
	}
	defer rc.Close()
	if !src.IsCSV() {
		return fail("source %s is not a CSV file", sourceID)
	}

	table, err := ReadTable(rc)
	if err != nil {
		return fail("failed to parse %s: %v", src.Name, err)
	}

	pc, err := a.prompts.Get(config.AgentCSVAnalyzer)
	if err != nil {
		return fail("failed to load prompt: %v", err)
	}
	pc = pc.WithOverride(a.override)

	userMessage, err := pc.Render(struct {
		SourceName string
		SourceID   string
		Query      string
	}{src.Name, src.ID, query})
	if err != nil {
		return fail("failed to build prompt: %v", err)
	}

	state := &analysis{projectID: projectID, source: src, table: table}
	def := &agent.Definition{
		Name:          config.AgentCSVAnalyzer,
		SystemPrompt:  pc.SystemPrompt,
		Model:         pc.Model,
		MaxTokens:     pc.MaxTokens,
		Temperature:   pc.Temperature,
		MaxIterations: pc.MaxIterations,
		ToolChoice:    agent.ToolChoiceAny,
		Tools:         a.tools,
	}

	logger.Info().Int("rows", len(table.Rows)).Msg("Starting CSV analysis")

	res, err := a.runner.Run(ctx, def, agent.Task{
		ProjectID:   projectID,
		JobID:       tracing.GetJobID(ctx),
		SourceID:    sourceID,
		Description: fmt.Sprintf("Analyze %s: %s", src.Name, query),
		UserMessage: userMessage,
		State:       state,
	})
	if err != nil {
		return fail("analysis failed: %v", err)
	}
	if !res.Success {
		return fail("%s", res.ErrorMessage)
	}

	out, ok := res.Output.(*Outcome)
	if !ok {
		return fail("analysis returned no summary")
	}
	return Result{Success: true, Summary: out.Summary, ImagePaths: out.ImagePaths}
}

func stateFrom(ctx context.Context) (*analysis, error) {
	execCtx := toolexecutor.ExecContextFromContext(ctx)
	if execCtx == nil {
		return nil, fmt.Errorf("missing execution context")
	}
	state, ok := execCtx.State.(*analysis)
	if !ok || state == nil {
		return nil, fmt.Errorf("missing analysis state")
	}
	return state, nil
}

func operationEnum() []interface{} {
	out := make([]interface{}, len(Operations))
	for i, op := range Operations {
		out[i] = op
	}
	return out
}

func (a *Agent) registerTools() error {
	defs := []toolexecutor.ToolDefinition{
		{
			Name:        "describe_csv",
			Description: "Describe the CSV: row count, columns, and per-column statistics.",
			Handler:     a.describe,
		},
		{
			Name:        "aggregate_csv",
			Description: "Aggregate a column, optionally grouped by another column. Results are sorted largest first.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "operation", Type: "string", Description: "Aggregation to apply", Required: true, Enum: operationEnum()},
				{Name: "value_column", Type: "string", Description: "Column to aggregate (ignored for count)"},
				{Name: "group_by", Type: "string", Description: "Column to group by; omit for a table-wide total"},
				{Name: "limit", Type: "integer", Description: "Maximum number of groups (default 20)"},
			},
			Handler: a.aggregate,
		},
		{
			Name:        "create_chart",
			Description: "Draw a bar or line chart of an aggregation and save it as an image.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "title", Type: "string", Description: "Chart title", Required: true},
				{Name: "chart_type", Type: "string", Description: "Chart style", Required: true, Enum: []interface{}{ChartBar, ChartLine}},
				{Name: "group_by", Type: "string", Description: "Column for the x axis", Required: true},
				{Name: "operation", Type: "string", Description: "Aggregation for the y axis", Required: true, Enum: operationEnum()},
				{Name: "value_column", Type: "string", Description: "Column to aggregate (ignored for count)"},
				{Name: "limit", Type: "integer", Description: "Maximum number of points (default 20). Bar charts keep the largest groups, line charts the first periods in file order"},
			},
			Handler: a.chart,
		},
		{
			Name:        "submit_analysis",
			Description: "Submit the final answer. Ends the analysis.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "summary", Type: "string", Description: "Concise answer with the key numbers", Required: true},
			},
			Terminal: true,
			Handler:  a.submit,
		},
	}

	for _, def := range defs {
		if err := a.tools.RegisterTool(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}
	return nil
}

func (a *Agent) describe(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	state, err := stateFrom(ctx)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\nRows: %d", state.source.Name, len(state.table.Rows))
	if state.table.Truncated {
		fmt.Fprintf(&b, " (only the first %d rows were loaded)", maxRows)
	}
	b.WriteString("\nColumns:\n")
	for _, c := range state.table.Describe() {
		if c.Numeric {
			fmt.Fprintf(&b, "- %s (numeric): min=%s max=%s mean=%s sum=%s, %d values\n",
				c.Name, formatNumber(c.Min), formatNumber(c.Max), formatNumber(c.Mean), formatNumber(c.Sum), c.NonEmpty)
			continue
		}
		fmt.Fprintf(&b, "- %s (text): %d distinct of %d values, e.g. %s\n",
			c.Name, c.Distinct, c.NonEmpty, strings.Join(c.Samples, ", "))
	}
	return map[string]interface{}{"message": strings.TrimRight(b.String(), "\n")}, nil
}

type aggregateParams struct {
	Operation   string `json:"operation"`
	ValueColumn string `json:"value_column"`
	GroupBy     string `json:"group_by"`
	Limit       int    `json:"limit"`
}

func (a *Agent) aggregate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	state, err := stateFrom(ctx)
	if err != nil {
		return nil, err
	}
	var p aggregateParams
	if err := toolexecutor.Bind(params, &p); err != nil {
		return nil, err
	}

	groups, err := state.table.Aggregate(p.GroupBy, p.ValueColumn, p.Operation, p.Limit)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s of %s", p.Operation, orDefault(p.ValueColumn, "rows"))
	if p.GroupBy != "" {
		fmt.Fprintf(&b, " by %s", p.GroupBy)
	}
	b.WriteString(":\n")
	for _, g := range groups {
		fmt.Fprintf(&b, "- %s: %s (%d rows)\n", g.Key, formatNumber(g.Value), g.Count)
	}
	return map[string]interface{}{
		"message": strings.TrimRight(b.String(), "\n"),
		"groups":  groups,
	}, nil
}

type chartParams struct {
	Title       string `json:"title"`
	ChartType   string `json:"chart_type"`
	GroupBy     string `json:"group_by"`
	Operation   string `json:"operation"`
	ValueColumn string `json:"value_column"`
	Limit       int    `json:"limit"`
}

func (a *Agent) chart(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	state, err := stateFrom(ctx)
	if err != nil {
		return nil, err
	}
	var p chartParams
	if err := toolexecutor.Bind(params, &p); err != nil {
		return nil, err
	}

	aggregate := state.table.Aggregate
	if p.ChartType == ChartLine {
		// Line charts read left to right in source order.
		aggregate = state.table.Series
	}
	groups, err := aggregate(p.GroupBy, p.ValueColumn, p.Operation, p.Limit)
	if err != nil {
		return nil, err
	}

	svg, err := RenderChart(p.Title, p.ChartType, groups)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("chart_%s.svg", uuid.NewString()[:8])
	if _, err := a.storage.WriteImage(ctx, state.projectID, filename, svg); err != nil {
		return nil, fmt.Errorf("failed to save chart: %w", err)
	}
	n := state.addChart(filename)

	return map[string]interface{}{
		"message":  fmt.Sprintf("Chart %d saved as %s", n, filename),
		"filename": filename,
	}, nil
}

type submitParams struct {
	Summary string `json:"summary"`
}

func (a *Agent) submit(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	state, err := stateFrom(ctx)
	if err != nil {
		return nil, err
	}
	var p submitParams
	if err := toolexecutor.Bind(params, &p); err != nil {
		return nil, err
	}
	return &Outcome{Summary: p.Summary, ImagePaths: state.chartList()}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
