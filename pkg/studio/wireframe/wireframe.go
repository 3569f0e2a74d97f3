// Package wireframe generates low-fidelity UI wireframes as Excalidraw scenes.
package wireframe

import (
	"context"
	"fmt"

	"github.com/harun/studio/internal/config"
	"github.com/harun/studio/pkg/agent"
	"github.com/harun/studio/pkg/excalidraw"
	"github.com/harun/studio/pkg/jobs"
	"github.com/harun/studio/pkg/prompts"
	"github.com/harun/studio/pkg/studio"
	"github.com/harun/studio/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// ToolCreate is the single, terminal wireframe tool.
const ToolCreate = "create_wireframe"

const (
	wireframesDir = "wireframes"
	defaultWidth  = 1440
	defaultHeight = 900
)

// ElementTypes are the drawable element types.
var ElementTypes = []interface{}{"rectangle", "ellipse", "diamond", "text", "line", "arrow"}

// Request asks for one wireframe.
type Request struct {
	ProjectID string `json:"project_id"`
	SourceID  string `json:"source_id"`
	JobID     string `json:"job_id"`
	Direction string `json:"direction,omitempty"`
}

// Config wires a Service.
type Config struct {
	studio.Deps
	Override config.AgentOverride
}

// Service runs the wireframe agent.
type Service struct {
	deps     studio.Deps
	override config.AgentOverride
	tools    *toolexecutor.ToolExecutor
	logger   zerolog.Logger
}

type state struct{}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if err := cfg.Deps.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		deps:     cfg.Deps,
		override: cfg.Override,
		tools:    toolexecutor.New(),
		logger:   cfg.Logger.With().Str("agent", config.AgentWireframe).Logger(),
	}
	s.tools.SetLogger(s.logger)

	err := s.tools.RegisterTool(toolexecutor.ToolDefinition{
		Name:        ToolCreate,
		Description: "Create the complete wireframe. Ends the task.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "title", Type: "string", Description: "Wireframe title", Required: true},
			{Name: "description", Type: "string", Description: "What the screen shows"},
			{Name: "canvas_width", Type: "integer", Description: "Canvas width in pixels", Default: defaultWidth},
			{Name: "canvas_height", Type: "integer", Description: "Canvas height in pixels", Default: defaultHeight},
			{Name: "elements", Type: "array", Description: "Elements to draw", Required: true, Items: map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"type"},
				"properties": map[string]interface{}{
					"type":            map[string]interface{}{"type": "string", "enum": ElementTypes},
					"x":               map[string]interface{}{"type": "number"},
					"y":               map[string]interface{}{"type": "number"},
					"width":           map[string]interface{}{"type": "number"},
					"height":          map[string]interface{}{"type": "number"},
					"text":            map[string]interface{}{"type": "string"},
					"label":           map[string]interface{}{"type": "string"},
					"fontSize":        map[string]interface{}{"type": "number"},
					"strokeColor":     map[string]interface{}{"type": "string"},
					"backgroundColor": map[string]interface{}{"type": "string"},
					"fillStyle":       map[string]interface{}{"type": "string"},
					"points": map[string]interface{}{
						"type":  "array",
						"items": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "number"}},
					},
				},
			}},
		},
		Terminal: true,
		Handler:  s.create,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", ToolCreate, err)
	}
	return s, nil
}

// Generate runs the agent for a wireframe job.
func (s *Service) Generate(ctx context.Context, req Request) (agent.RunResult, error) {
	return studio.Run(ctx, s.deps, studio.Job{
		Kind:         jobs.KindWireframe,
		Agent:        config.AgentWireframe,
		ProjectID:    req.ProjectID,
		JobID:        req.JobID,
		SourceID:     req.SourceID,
		Override:     s.override,
		StartMessage: "Starting wireframe generation...",
		Description:  fmt.Sprintf("Generate wireframe (job: %s)", studio.ShortID(req.JobID)),
		Tools:        s.tools,
		State:        &state{},
		PromptData: func(*prompts.Config) (interface{}, error) {
			return studio.LoadSourcePrompt(s.deps.Storage, req.ProjectID, req.SourceID, req.Direction)
		},
		Metadata: map[string]interface{}{"source_id": req.SourceID, "job_id": req.JobID},
	})
}

type createParams struct {
	Title        string                   `json:"title"`
	Description  string                   `json:"description"`
	CanvasWidth  int                      `json:"canvas_width"`
	CanvasHeight int                      `json:"canvas_height"`
	Elements     []map[string]interface{} `json:"elements"`
}

func (s *Service) create(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	execCtx, _, err := studio.ExecContext[*state](ctx)
	if err != nil {
		return nil, err
	}
	var p createParams
	if err := toolexecutor.Bind(params, &p); err != nil {
		return nil, err
	}
	if p.CanvasWidth <= 0 {
		p.CanvasWidth = defaultWidth
	}
	if p.CanvasHeight <= 0 {
		p.CanvasHeight = defaultHeight
	}

	elements := excalidraw.Convert(p.Elements)
	data, err := excalidraw.NewScene(elements).Marshal()
	if err != nil {
		return studio.Failed(ctx, s.deps.Jobs, execCtx, fmt.Sprintf("Error encoding wireframe: %v", err), s.logger), nil
	}

	filename := execCtx.JobID + ".excalidraw"
	if _, err := s.deps.Storage.WriteStudioFile(ctx, execCtx.ProjectID, data, wireframesDir, filename); err != nil {
		return studio.Failed(ctx, s.deps.Jobs, execCtx, fmt.Sprintf("Error saving wireframe: %v", err), s.logger), nil
	}

	fileURL := studio.StudioURL(execCtx.ProjectID, wireframesDir, filename)
	previewURL := studio.StudioURL(execCtx.ProjectID, wireframesDir, execCtx.JobID, "preview")

	if err := s.deps.Jobs.Update(ctx, jobs.KindWireframe, execCtx.ProjectID, execCtx.JobID, jobs.Fields{
		"status":         jobs.StatusReady,
		"status_message": "Wireframe generated successfully!",
		"title":          p.Title,
		"description":    p.Description,
		"canvas_width":   p.CanvasWidth,
		"canvas_height":  p.CanvasHeight,
		"element_count":  len(elements),
		"wireframe_file": filename,
		"wireframe_url":  fileURL,
		"preview_url":    previewURL,
		"iterations":     execCtx.Iteration,
		"input_tokens":   execCtx.InputTokens,
		"output_tokens":  execCtx.OutputTokens,
		"completed_at":   studio.Now(),
	}); err != nil {
		return studio.Failed(ctx, s.deps.Jobs, execCtx, fmt.Sprintf("Error saving wireframe: %v", err), s.logger), nil
	}

	s.logger.Info().Str("job_id", studio.ShortID(execCtx.JobID)).Int("elements", len(elements)).Msg("Wireframe saved")

	return studio.Done(execCtx, map[string]interface{}{
		"title":          p.Title,
		"wireframe_file": filename,
		"wireframe_url":  fileURL,
		"preview_url":    previewURL,
		"element_count":  len(elements),
	}), nil
}
