// Package imagegen generates images from text prompts.
package imagegen

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/studio/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

// DefaultAspectRatio is used when a request does not name one.
const DefaultAspectRatio = "16:9"

var aspectRatios = map[string]bool{
	"1:1": true, "3:4": true, "4:3": true, "9:16": true, "16:9": true,
}

// ErrNoImages is returned when the model produced nothing, usually because
// the prompt was filtered.
var ErrNoImages = errors.New("no images generated")

// Image is one generated image.
type Image struct {
	Data     []byte
	MIMEType string
}

// Extension returns the file extension matching the image type.
func (i Image) Extension() string {
	switch i.MIMEType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}

// Options tune one generation request.
type Options struct {
	AspectRatio string
	Count       int
}

// Generator turns prompts into images.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) ([]Image, error)
}

// ValidAspectRatio reports whether ratio is supported.
func ValidAspectRatio(ratio string) bool {
	return aspectRatios[ratio]
}

// Imagen generates images with Google's Imagen models through the Gemini API.
type Imagen struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

// NewImagen creates an Imagen generator. baseURL overrides the endpoint when non-empty.
func NewImagen(ctx context.Context, apiKey, model string, logger zerolog.Logger, baseURL ...string) (*Imagen, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("image API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("image model is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if len(baseURL) > 0 && baseURL[0] != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL[0]}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Imagen client: %w", err)
	}

	return &Imagen{
		client: client,
		model:  model,
		logger: logger.With().Str("component", "imagegen").Logger(),
	}, nil
}

// Generate produces opts.Count images (default 1) for prompt.
func (g *Imagen) Generate(ctx context.Context, prompt string, opts Options) ([]Image, error) {
	if prompt == "" {
		return nil, fmt.Errorf("image prompt is required")
	}
	ratio := opts.AspectRatio
	if ratio == "" {
		ratio = DefaultAspectRatio
	}
	if !ValidAspectRatio(ratio) {
		return nil, fmt.Errorf("unsupported aspect ratio %q", ratio)
	}
	count := opts.Count
	if count <= 0 {
		count = 1
	}

	ctx, span := tracing.StartSpan(ctx, "studio.imagegen", "imagegen.generate",
		attribute.String("model", g.model),
		attribute.String("aspect_ratio", ratio),
		attribute.Int("count", count),
	)
	defer span.End()

	resp, err := g.client.Models.GenerateImages(ctx, g.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: int32(count),
		AspectRatio:    ratio,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("image generation failed: %w", err)
	}

	images := make([]Image, 0, len(resp.GeneratedImages))
	for _, gi := range resp.GeneratedImages {
		if gi == nil || gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
			if gi != nil && gi.RAIFilteredReason != "" {
				g.logger.Warn().Str("reason", gi.RAIFilteredReason).Msg("Image filtered")
			}
			continue
		}
		mime := gi.Image.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		images = append(images, Image{Data: gi.Image.ImageBytes, MIMEType: mime})
	}

	if len(images) == 0 {
		span.SetStatus(codes.Error, ErrNoImages.Error())
		return nil, ErrNoImages
	}

	logger := tracing.LoggerFromContext(ctx, g.logger)
	logger.Debug().Int("images", len(images)).Msg("Images generated")
	return images, nil
}
