package relay

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"inkrelay/internal/provider"
)

// Render parameters applied to every project. Clients only control the
// prompt, the style, the image count, the seed and the sketch.
const (
	RenderModelID         = "coreml-sogniXLturbo_alpha1_ad"
	RenderSteps           = 6
	RenderGuidance        = 2.0
	RenderScheduler       = "DPM Solver Multistep (DPM-Solver++)"
	RenderTimeStepSpacing = "Karras"
	RenderSizePreset      = "custom"
	RenderWidth           = 512
	RenderHeight          = 512
	RenderTokenType       = "spark"
	ControlNetName        = "scribble"

	DefaultNumImages = 4
	MaxNumImages     = 4
)

// GenerateRequest is the validated client input for one generation.
type GenerateRequest struct {
	Prompt       string
	Style        string
	NumImages    int
	Seed         *int64
	ControlImage []byte
}

// BuildParams applies the fixed render parameters to req.
func BuildParams(req GenerateRequest) provider.ProjectParams {
	n := req.NumImages
	if n <= 0 {
		n = DefaultNumImages
	}
	if n > MaxNumImages {
		n = MaxNumImages
	}
	params := provider.ProjectParams{
		ModelID:         RenderModelID,
		PositivePrompt:  strings.TrimSpace(req.Prompt),
		StylePrompt:     styleText(req.Style),
		NumberOfImages:  n,
		Steps:           RenderSteps,
		Guidance:        RenderGuidance,
		Scheduler:       RenderScheduler,
		TimeStepSpacing: RenderTimeStepSpacing,
		SizePreset:      RenderSizePreset,
		Width:           RenderWidth,
		Height:          RenderHeight,
		TokenType:       RenderTokenType,
		Seed:            req.Seed,
	}
	if len(req.ControlImage) > 0 {
		params.ControlNet = &provider.ControlNet{
			Name:  ControlNetName,
			Image: append([]byte(nil), req.ControlImage...),
		}
	}
	return params
}

func styleText(style string) string {
	style = strings.Join(strings.Fields(style), " ")
	if style == "" {
		return ""
	}
	return cases.Title(language.Und).String(style)
}
