package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"inkrelay/internal/relay"
)

// Relay is the part of the relay service the HTTP layer drives.
type Relay interface {
	Generate(ctx context.Context, req relay.GenerateRequest) (*relay.GenerateResult, error)
	Stream(ctx context.Context, w http.ResponseWriter, projectID string) error
	Cancel(ctx context.Context, projectID string) error
	OpenResult(ctx context.Context, projectID, jobID string) (*relay.ResultStream, error)
}

type App struct {
	Relay  Relay
	Env    string
	Logger zerolog.Logger
}

func NewApp(r Relay, env string, logger zerolog.Logger) *App {
	return &App{Relay: r, Env: env, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) error(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, errorResponse{Error: msg})
}
