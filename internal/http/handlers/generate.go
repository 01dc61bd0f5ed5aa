package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"inkrelay/internal/domain"
	"inkrelay/internal/provider"
	"inkrelay/internal/relay"
)

const (
	maxGenerateBody   = 8 << 20
	msgMissingPrompt  = "Missing prompt"
	msgInvalidControl = "Invalid controlImage"
	msgInvalidSeed    = "Invalid seed"
	msgRetry          = "The image service is still setting up this project. Please try again in a moment."
)

type generateRequest struct {
	Prompt       any         `json:"prompt"`
	Style        string      `json:"style"`
	NumImages    *float64    `json:"numImages"`
	Seed         json.Number `json:"seed"`
	ControlImage string      `json:"controlImage"`
}

func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxGenerateBody))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, msgMissingPrompt)
		return
	}
	prompt, ok := body.Prompt.(string)
	if !ok || strings.TrimSpace(prompt) == "" {
		a.error(w, http.StatusBadRequest, msgMissingPrompt)
		return
	}

	req := relay.GenerateRequest{Prompt: prompt, Style: body.Style}
	if body.NumImages != nil {
		req.NumImages = clampImageCount(*body.NumImages)
	}
	if body.Seed != "" {
		seed, err := strconv.ParseInt(body.Seed.String(), 10, 64)
		if err != nil {
			a.error(w, http.StatusBadRequest, msgInvalidSeed)
			return
		}
		req.Seed = &seed
	}
	if body.ControlImage != "" {
		img, err := decodeControlImage(body.ControlImage)
		if err != nil {
			a.error(w, http.StatusBadRequest, msgInvalidControl)
			return
		}
		req.ControlImage = img
	}

	res, err := a.Relay.Generate(r.Context(), req)
	switch {
	case err == nil:
		a.json(w, http.StatusOK, res)
	case errors.Is(err, domain.ErrMissingPrompt):
		a.error(w, http.StatusBadRequest, msgMissingPrompt)
	case provider.IsProjectNotFound(err):
		a.Logger.Warn().Err(err).Msg("generate: project-not-found race surfaced to client")
		a.error(w, http.StatusServiceUnavailable, msgRetry)
	default:
		a.Logger.Error().Err(err).Msg("generate: failed")
		a.error(w, http.StatusInternalServerError, err.Error())
	}
}

// clampImageCount bounds n before the integer conversion; BuildParams applies
// the default for anything below one.
func clampImageCount(n float64) int {
	switch {
	case math.IsNaN(n), n < 1:
		return 0
	case n > relay.MaxNumImages:
		return relay.MaxNumImages
	default:
		return int(n)
	}
}

// decodeControlImage accepts raw base64 or a data URL.
func decodeControlImage(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		comma := strings.IndexByte(raw, ',')
		if comma < 0 || !strings.HasSuffix(raw[:comma], ";base64") {
			return nil, domain.ErrInvalidControlImage
		}
		raw = raw[comma+1:]
	}
	img, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidControlImage, err)
	}
	if len(img) == 0 {
		return nil, domain.ErrInvalidControlImage
	}
	return img, nil
}
