// Package email generates responsive HTML email templates with optional
// generated images.
package email

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/studio/internal/config"
	"github.com/harun/studio/pkg/agent"
	"github.com/harun/studio/pkg/imagegen"
	"github.com/harun/studio/pkg/jobs"
	"github.com/harun/studio/pkg/prompts"
	"github.com/harun/studio/pkg/studio"
	"github.com/harun/studio/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Tool names.
const (
	ToolPlan  = "plan_email_template"
	ToolImage = "generate_email_image"
	ToolWrite = "write_email_code"
)

const (
	templatesDir    = "email_templates"
	templatesURLDir = "email-templates"
	imageTimeout    = 2 * time.Minute
	defaultName     = "Email Template"
)

// Request asks for one email template.
type Request struct {
	ProjectID string `json:"project_id"`
	SourceID  string `json:"source_id"`
	JobID     string `json:"job_id"`
	Direction string `json:"direction,omitempty"`
}

// Image is a generated image referenced by placeholder.
type Image struct {
	SectionName string `json:"section_name"`
	Filename    string `json:"filename"`
	Placeholder string `json:"placeholder"`
	URL         string `json:"url"`
}

// Config wires a Service. Images may be nil, in which case image requests
// are answered with an error message and the template is built without them.
type Config struct {
	studio.Deps
	Images   imagegen.Generator
	Override config.AgentOverride
}

// Service runs the email agent.
type Service struct {
	deps     studio.Deps
	images   imagegen.Generator
	override config.AgentOverride
	tools    *toolexecutor.ToolExecutor
	logger   zerolog.Logger
}

type state struct {
	mu     sync.Mutex
	images []Image
}

// nextIndex is the 1-based number of the next image. Tool calls of one run
// are dispatched in order, so a failed attempt leaves its number free.
func (s *state) nextIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images) + 1
}

func (s *state) add(img Image) []Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = append(s.images, img)
	return append([]Image{}, s.images...)
}

func (s *state) snapshot() []Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Image{}, s.images...)
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if err := cfg.Deps.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		deps:     cfg.Deps,
		images:   cfg.Images,
		override: cfg.Override,
		tools:    toolexecutor.New(),
		logger:   cfg.Logger.With().Str("agent", config.AgentEmail).Logger(),
	}
	s.tools.SetLogger(s.logger)
	if err := s.registerTools(); err != nil {
		return nil, err
	}
	return s, nil
}

// Generate runs the agent for an email job.
func (s *Service) Generate(ctx context.Context, req Request) (agent.RunResult, error) {
	return studio.Run(ctx, s.deps, studio.Job{
		Kind:         jobs.KindEmail,
		Agent:        config.AgentEmail,
		ProjectID:    req.ProjectID,
		JobID:        req.JobID,
		SourceID:     req.SourceID,
		Override:     s.override,
		StartMessage: "Starting email template generation...",
		Description:  fmt.Sprintf("Generate email template (job: %s)", studio.ShortID(req.JobID)),
		Tools:        s.tools,
		State:        &state{},
		PromptData: func(*prompts.Config) (interface{}, error) {
			return studio.LoadSourcePrompt(s.deps.Storage, req.ProjectID, req.SourceID, req.Direction)
		},
		Metadata: map[string]interface{}{"source_id": req.SourceID, "job_id": req.JobID},
	})
}

func aspectRatios() []interface{} {
	return []interface{}{"1:1", "3:4", "4:3", "9:16", "16:9"}
}

func (s *Service) registerTools() error {
	stringItems := map[string]interface{}{"type": "string"}
	defs := []toolexecutor.ToolDefinition{
		{
			Name:        ToolPlan,
			Description: "Plan the email template structure and design.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "template_name", Type: "string", Description: "Template name", Required: true},
				{Name: "template_type", Type: "string", Description: "Kind of email, e.g. newsletter or promotional", Required: true},
				{Name: "color_scheme", Type: "object", Description: "Named colors", Properties: map[string]interface{}{
					"primary":    map[string]interface{}{"type": "string"},
					"secondary":  map[string]interface{}{"type": "string"},
					"background": map[string]interface{}{"type": "string"},
					"text":       map[string]interface{}{"type": "string"},
				}},
				{Name: "sections", Type: "array", Description: "Ordered template sections", Required: true, Items: map[string]interface{}{"type": "object"}},
				{Name: "layout_notes", Type: "string", Description: "Layout guidance"},
			},
			Handler: s.plan,
		},
		{
			Name:        ToolImage,
			Description: "Generate an image for a section. Returns the placeholder to use in the HTML.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "section_name", Type: "string", Description: "Section the image belongs to", Required: true},
				{Name: "image_prompt", Type: "string", Description: "Detailed image description", Required: true},
				{Name: "aspect_ratio", Type: "string", Description: "Aspect ratio", Default: imagegen.DefaultAspectRatio, Enum: aspectRatios()},
			},
			Handler: s.image,
			Timeout: imageTimeout,
		},
		{
			Name:        ToolWrite,
			Description: "Write the final HTML email. Ends the task.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "html_code", Type: "string", Description: "Complete HTML document", Required: true},
				{Name: "subject_line_suggestion", Type: "string", Description: "Suggested subject line"},
				{Name: "preheader_text", Type: "string", Description: "Preview text shown after the subject"},
				{Name: "notes", Type: "array", Description: "Implementation notes", Items: stringItems},
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
	TemplateName string                 `json:"template_name"`
	TemplateType string                 `json:"template_type"`
	ColorScheme  map[string]interface{} `json:"color_scheme"`
	Sections     []interface{}          `json:"sections"`
	LayoutNotes  string                 `json:"layout_notes"`
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
	if p.TemplateName == "" {
		p.TemplateName = "Unnamed"
	}

	studio.Progress(ctx, s.deps.Jobs, execCtx, jobs.Fields{
		"template_name":  p.TemplateName,
		"template_type":  p.TemplateType,
		"color_scheme":   p.ColorScheme,
		"sections":       p.Sections,
		"layout_notes":   p.LayoutNotes,
		"status_message": "Template planned, generating images...",
	}, s.logger)

	return fmt.Sprintf("Template plan saved successfully. Template name: '%s', Type: %s, Sections: %d",
		p.TemplateName, p.TemplateType, len(p.Sections)), nil
}

type imageParams struct {
	SectionName string `json:"section_name"`
	ImagePrompt string `json:"image_prompt"`
	AspectRatio string `json:"aspect_ratio"`
}

// image generates one image. Failures are answered as text so the agent can
// carry on without the image.
func (s *Service) image(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	execCtx, st, err := studio.ExecContext[*state](ctx)
	if err != nil {
		return nil, err
	}
	var p imageParams
	if err := toolexecutor.Bind(params, &p); err != nil {
		return nil, err
	}
	if p.AspectRatio == "" {
		p.AspectRatio = imagegen.DefaultAspectRatio
	}

	studio.Progress(ctx, s.deps.Jobs, execCtx, jobs.Fields{
		"status_message": fmt.Sprintf("Generating image for %s...", p.SectionName),
	}, s.logger)

	failed := func(err error) (interface{}, error) {
		s.logger.Warn().Err(err).Str("section", p.SectionName).Msg("Image generation failed")
		return fmt.Sprintf("Error generating image for %s: %v", p.SectionName, err), nil
	}

	if s.images == nil {
		return failed(fmt.Errorf("image generation is not configured"))
	}

	images, err := s.images.Generate(ctx, p.ImagePrompt, imagegen.Options{AspectRatio: p.AspectRatio, Count: 1})
	if err != nil {
		return failed(err)
	}
	if len(images) == 0 {
		return failed(imagegen.ErrNoImages)
	}

	index := st.nextIndex()
	filename := fmt.Sprintf("%s_image_%d.%s", execCtx.JobID, index, images[0].Extension())
	if _, err := s.deps.Storage.WriteStudioFile(ctx, execCtx.ProjectID, images[0].Data, templatesDir, filename); err != nil {
		return failed(err)
	}

	img := Image{
		SectionName: p.SectionName,
		Filename:    filename,
		Placeholder: fmt.Sprintf("IMAGE_%d", index),
		URL:         studio.StudioURL(execCtx.ProjectID, templatesURLDir, filename),
	}
	all := st.add(img)

	studio.Progress(ctx, s.deps.Jobs, execCtx, jobs.Fields{"images": all}, s.logger)

	return fmt.Sprintf("Image generated successfully for '%s'. Use placeholder '%s' in your HTML code for this image.",
		p.SectionName, img.Placeholder), nil
}

type writeParams struct {
	HTMLCode      string `json:"html_code"`
	SubjectLine   string `json:"subject_line_suggestion"`
	PreheaderText string `json:"preheader_text"`
}

// ReplacePlaceholders swaps quoted IMAGE_n placeholders for image URLs.
func ReplacePlaceholders(html string, images []Image) string {
	pairs := make([]string, 0, len(images)*4)
	for _, img := range images {
		pairs = append(pairs,
			`"`+img.Placeholder+`"`, `"`+img.URL+`"`,
			`'`+img.Placeholder+`'`, `'`+img.URL+`'`,
		)
	}
	if len(pairs) == 0 {
		return html
	}
	return strings.NewReplacer(pairs...).Replace(html)
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

	images := st.snapshot()
	html := ReplacePlaceholders(p.HTMLCode, images)

	filename := execCtx.JobID + ".html"
	if _, err := s.deps.Storage.WriteStudioFile(ctx, execCtx.ProjectID, []byte(html), templatesDir, filename); err != nil {
		return studio.Failed(ctx, s.deps.Jobs, execCtx, fmt.Sprintf("Error saving HTML code: %v", err), s.logger), nil
	}

	name := defaultName
	if rec, err := s.deps.Jobs.Get(ctx, jobs.KindEmail, execCtx.ProjectID, execCtx.JobID); err == nil && rec.String("template_name") != "" {
		name = rec.String("template_name")
	}

	htmlURL := studio.StudioURL(execCtx.ProjectID, templatesURLDir, filename)
	previewURL := studio.StudioURL(execCtx.ProjectID, templatesURLDir, execCtx.JobID, "preview")

	if err := s.deps.Jobs.Update(ctx, jobs.KindEmail, execCtx.ProjectID, execCtx.JobID, jobs.Fields{
		"status":         jobs.StatusReady,
		"status_message": "Email template generated successfully!",
		"html_file":      filename,
		"html_url":       htmlURL,
		"preview_url":    previewURL,
		"subject_line":   p.SubjectLine,
		"preheader_text": p.PreheaderText,
		"iterations":     execCtx.Iteration,
		"input_tokens":   execCtx.InputTokens,
		"output_tokens":  execCtx.OutputTokens,
		"completed_at":   studio.Now(),
	}); err != nil {
		return studio.Failed(ctx, s.deps.Jobs, execCtx, fmt.Sprintf("Error saving HTML code: %v", err), s.logger), nil
	}

	s.logger.Info().Str("job_id", studio.ShortID(execCtx.JobID)).Int("images", len(images)).Msg("Email template saved")

	return studio.Done(execCtx, map[string]interface{}{
		"template_name":  name,
		"html_file":      filename,
		"html_url":       htmlURL,
		"preview_url":    previewURL,
		"images":         images,
		"subject_line":   p.SubjectLine,
		"preheader_text": p.PreheaderText,
	}), nil
}
