// Package presentation generates slide decks as one HTML file per slide
// plus a shared stylesheet.
package presentation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harun/studio/internal/config"
	"github.com/harun/studio/pkg/agent"
	"github.com/harun/studio/pkg/jobs"
	"github.com/harun/studio/pkg/prompts"
	"github.com/harun/studio/pkg/studio"
	"github.com/harun/studio/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Tool names.
const (
	ToolPlan       = "plan_presentation"
	ToolBaseStyles = "create_base_styles"
	ToolSlide      = "create_slide"
	ToolFinalize   = "finalize_presentation"
)

const (
	presentationsDir = "presentations"
	slidesDir        = "slides"
	baseStylesFile   = "base-styles.css"
	defaultTitle     = "Untitled Presentation"
	defaultType      = "business"
	defaultSlideType = "bullet_points"
)

// Request asks for one presentation.
type Request struct {
	ProjectID string `json:"project_id"`
	SourceID  string `json:"source_id"`
	JobID     string `json:"job_id"`
	Direction string `json:"direction,omitempty"`
}

// Slide describes a created slide.
type Slide struct {
	Filename    string `json:"filename"`
	SlideNumber int    `json:"slide_number"`
	SlideType   string `json:"slide_type"`
}

// Config wires a Service.
type Config struct {
	studio.Deps
	Override config.AgentOverride
}

// Service runs the presentation agent.
type Service struct {
	deps     studio.Deps
	override config.AgentOverride
	tools    *toolexecutor.ToolExecutor
	logger   zerolog.Logger
}

type state struct {
	mu     sync.Mutex
	files  []string
	slides []Slide
}

// addFile records a created file once and returns the file list.
func (s *state) addFile(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		if f == name {
			return append([]string{}, s.files...)
		}
	}
	s.files = append(s.files, name)
	return append([]string{}, s.files...)
}

func (s *state) addSlide(slide Slide) []string {
	files := s.addFile(slide.Filename)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slides = append(s.slides, slide)
	return files
}

func (s *state) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.files...)
}

// SlideFilename returns the file name of a slide number.
func SlideFilename(n int) string {
	return fmt.Sprintf("slide_%02d.html", n)
}

// SlideFiles returns the slide files among files in order.
func SlideFiles(files []string) []string {
	out := []string{}
	for _, f := range files {
		if strings.HasPrefix(f, "slide_") && strings.HasSuffix(f, ".html") {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if err := cfg.Deps.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		deps:     cfg.Deps,
		override: cfg.Override,
		tools:    toolexecutor.New(),
		logger:   cfg.Logger.With().Str("agent", config.AgentPresentation).Logger(),
	}
	s.tools.SetLogger(s.logger)
	if err := s.registerTools(); err != nil {
		return nil, err
	}
	return s, nil
}

// Generate runs the agent for a presentation job.
func (s *Service) Generate(ctx context.Context, req Request) (agent.RunResult, error) {
	return studio.Run(ctx, s.deps, studio.Job{
		Kind:         jobs.KindPresentation,
		Agent:        config.AgentPresentation,
		ProjectID:    req.ProjectID,
		JobID:        req.JobID,
		SourceID:     req.SourceID,
		Override:     s.override,
		StartMessage: "Starting presentation generation...",
		Description:  fmt.Sprintf("Generate presentation (job: %s)", studio.ShortID(req.JobID)),
		Tools:        s.tools,
		State:        &state{},
		PromptData: func(*prompts.Config) (interface{}, error) {
			return studio.LoadSourcePrompt(s.deps.Storage, req.ProjectID, req.SourceID, req.Direction)
		},
		Metadata: map[string]interface{}{"source_id": req.SourceID, "job_id": req.JobID},
	})
}

func (s *Service) registerTools() error {
	object := map[string]interface{}{"type": "object"}
	defs := []toolexecutor.ToolDefinition{
		{
			Name:        ToolPlan,
			Description: "Plan the deck: title, audience, slide outline and design system.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "presentation_title", Type: "string", Description: "Deck title", Required: true},
				{Name: "presentation_type", Type: "string", Description: "e.g. business, educational, pitch"},
				{Name: "target_audience", Type: "string", Description: "Who the deck is for"},
				{Name: "slides", Type: "array", Description: "Slide outline in order", Required: true, Items: object},
				{Name: "design_system", Type: "object", Description: "Colors and typography"},
				{Name: "style_notes", Type: "string", Description: "Visual style guidance"},
			},
			Handler: s.plan,
		},
		{
			Name:        ToolBaseStyles,
			Description: "Write base-styles.css shared by every slide.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "content", Type: "string", Description: "CSS content", Required: true},
			},
			Handler: s.baseStyles,
		},
		{
			Name:        ToolSlide,
			Description: "Write one slide as a standalone HTML document.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "slide_number", Type: "integer", Description: "1-based slide number", Required: true},
				{Name: "slide_type", Type: "string", Description: "e.g. title, bullet_points, chart, closing"},
				{Name: "content", Type: "string", Description: "Complete HTML", Required: true},
			},
			Handler: s.slide,
		},
		{
			Name:        ToolFinalize,
			Description: "Finish the deck once every slide exists. Ends the task.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "summary", Type: "string", Description: "Short summary of the deck"},
				{Name: "total_slides", Type: "integer", Description: "Number of slides created"},
				{Name: "slides_created", Type: "array", Description: "Metadata of each slide", Items: object},
				{Name: "design_notes", Type: "string", Description: "Notes on the design"},
			},
			Terminal: true,
			Handler:  s.finalize,
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
	Title          string                 `json:"presentation_title"`
	Type           string                 `json:"presentation_type"`
	TargetAudience string                 `json:"target_audience"`
	Slides         []interface{}          `json:"slides"`
	DesignSystem   map[string]interface{} `json:"design_system"`
	StyleNotes     string                 `json:"style_notes"`
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
	if p.Type == "" {
		p.Type = defaultType
	}

	studio.Progress(ctx, s.deps.Jobs, execCtx, jobs.Fields{
		"presentation_title": p.Title,
		"presentation_type":  p.Type,
		"target_audience":    p.TargetAudience,
		"planned_slides":     p.Slides,
		"design_system":      p.DesignSystem,
		"style_notes":        p.StyleNotes,
		"status_message":     fmt.Sprintf("Planned %d-slide presentation, creating base styles...", len(p.Slides)),
	}, s.logger)

	return fmt.Sprintf("Presentation plan saved successfully. Title: '%s', Type: %s, Slides: %d. Now create base-styles.css with the design system colors.",
		p.Title, p.Type, len(p.Slides)), nil
}

type contentParams struct {
	Content string `json:"content"`
}

func (s *Service) baseStyles(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	execCtx, st, err := studio.ExecContext[*state](ctx)
	if err != nil {
		return nil, err
	}
	var p contentParams
	if err := toolexecutor.Bind(params, &p); err != nil {
		return nil, err
	}

	if _, err := s.deps.Storage.WriteStudioFile(ctx, execCtx.ProjectID, []byte(p.Content),
		presentationsDir, execCtx.JobID, slidesDir, baseStylesFile); err != nil {
		return fmt.Sprintf("Error creating %s: %v", baseStylesFile, err), nil
	}
	files := st.addFile(baseStylesFile)

	studio.Progress(ctx, s.deps.Jobs, execCtx, jobs.Fields{
		"files":          files,
		"status_message": "Base styles created, generating slides...",
	}, s.logger)

	return fmt.Sprintf("%s created successfully (%d characters). Now create slides starting with %s.",
		baseStylesFile, len([]rune(p.Content)), SlideFilename(1)), nil
}

type slideParams struct {
	SlideNumber int    `json:"slide_number"`
	SlideType   string `json:"slide_type"`
	Content     string `json:"content"`
}

func (s *Service) slide(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	execCtx, st, err := studio.ExecContext[*state](ctx)
	if err != nil {
		return nil, err
	}
	var p slideParams
	if err := toolexecutor.Bind(params, &p); err != nil {
		return nil, err
	}
	if p.SlideNumber < 1 {
		return nil, fmt.Errorf("slide_number must be at least 1")
	}
	if p.SlideType == "" {
		p.SlideType = defaultSlideType
	}

	filename := SlideFilename(p.SlideNumber)
	if _, err := s.deps.Storage.WriteStudioFile(ctx, execCtx.ProjectID, []byte(p.Content),
		presentationsDir, execCtx.JobID, slidesDir, filename); err != nil {
		return fmt.Sprintf("Error creating slide %d: %v", p.SlideNumber, err), nil
	}
	files := st.addSlide(Slide{Filename: filename, SlideNumber: p.SlideNumber, SlideType: p.SlideType})
	count := len(SlideFiles(files))

	studio.Progress(ctx, s.deps.Jobs, execCtx, jobs.Fields{
		"files":          files,
		"slides_created": count,
		"status_message": fmt.Sprintf("Created %s (%d slides so far)", filename, count),
	}, s.logger)

	return fmt.Sprintf("Slide %d (%s) created successfully. Type: %s, Size: %d characters.",
		p.SlideNumber, filename, p.SlideType, len([]rune(p.Content))), nil
}

type finalizeParams struct {
	Summary       string        `json:"summary"`
	TotalSlides   int           `json:"total_slides"`
	SlidesCreated []interface{} `json:"slides_created"`
	DesignNotes   string        `json:"design_notes"`
}

func (s *Service) finalize(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	execCtx, st, err := studio.ExecContext[*state](ctx)
	if err != nil {
		return nil, err
	}
	var p finalizeParams
	if err := toolexecutor.Bind(params, &p); err != nil {
		return nil, err
	}

	files := st.snapshot()
	slideFiles := SlideFiles(files)

	title := "Presentation"
	if rec, err := s.deps.Jobs.Get(ctx, jobs.KindPresentation, execCtx.ProjectID, execCtx.JobID); err == nil && rec.String("presentation_title") != "" {
		title = rec.String("presentation_title")
	}

	previewURL := studio.StudioURL(execCtx.ProjectID, presentationsDir, execCtx.JobID, "preview")
	downloadURL := studio.StudioURL(execCtx.ProjectID, presentationsDir, execCtx.JobID, "download")

	if err := s.deps.Jobs.Update(ctx, jobs.KindPresentation, execCtx.ProjectID, execCtx.JobID, jobs.Fields{
		"status":          jobs.StatusReady,
		"status_message":  "Presentation generated! Ready for export.",
		"files":           files,
		"slide_files":     slideFiles,
		"slides_metadata": p.SlidesCreated,
		"summary":         p.Summary,
		"design_notes":    p.DesignNotes,
		"total_slides":    len(slideFiles),
		"preview_url":     previewURL,
		"download_url":    downloadURL,
		"iterations":      execCtx.Iteration,
		"input_tokens":    execCtx.InputTokens,
		"output_tokens":   execCtx.OutputTokens,
		"completed_at":    studio.Now(),
	}); err != nil {
		return studio.Failed(ctx, s.deps.Jobs, execCtx, fmt.Sprintf("Error finalizing presentation: %v", err), s.logger), nil
	}

	if p.TotalSlides != 0 && p.TotalSlides != len(slideFiles) {
		s.logger.Warn().Int("reported", p.TotalSlides).Int("created", len(slideFiles)).Msg("Slide count mismatch")
	}
	s.logger.Info().Str("job_id", studio.ShortID(execCtx.JobID)).Int("slides", len(slideFiles)).Msg("Presentation finalized")

	return studio.Done(execCtx, map[string]interface{}{
		"presentation_title": title,
		"total_slides":       len(slideFiles),
		"slide_files":        slideFiles,
		"files":              files,
		"summary":            p.Summary,
		"preview_url":        previewURL,
		"download_url":       downloadURL,
	}), nil
}
