package handlers

import (
	"net/http"
)

type healthResponse struct {
	OK  bool   `json:"ok"`
	Env string `json:"env"`
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, healthResponse{OK: true, Env: a.Env})
}
