package domain

import "errors"

var (
	ErrMissingPrompt       = errors.New("missing prompt")
	ErrInvalidControlImage = errors.New("invalid control image")
	ErrProjectNotTracked   = errors.New("project not tracked")
	ErrResultUnavailable   = errors.New("result url unavailable")
	ErrUpstreamFetch       = errors.New("upstream fetch failed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
