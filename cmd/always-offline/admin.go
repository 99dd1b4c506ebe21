package main

import (
	"encoding/json"
	"errors"
	"net/http"

	alwaysoffline "github.com/always-cache/always-offline"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// admin exposes the registration to operators.
type admin struct {
	reg        *alwaysoffline.Registration
	configFile string
	log        zerolog.Logger
}

func newAdminRouter(a *admin) http.Handler {
	r := chi.NewRouter()
	r.Get("/status", a.status)
	r.Post("/update", a.update)
	r.Delete("/clients/{id}", a.releaseClient)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (a *admin) status(w http.ResponseWriter, r *http.Request) {
	status, err := a.reg.Status(r.Context())
	if err != nil {
		a.log.Error().Err(err).Msg("Could not get status")
		a.writeJSON(w, http.StatusInternalServerError, errorBody(err))
		return
	}
	a.writeJSON(w, http.StatusOK, status)
}

// update reloads the config file and registers the configured version.
func (a *admin) update(w http.ResponseWriter, r *http.Request) {
	config, err := getConfig(a.configFile)
	if err != nil {
		a.log.Error().Err(err).Msg("Could not reload config")
		a.writeJSON(w, http.StatusInternalServerError, errorBody(err))
		return
	}
	worker, err := a.reg.Register(r.Context(), config.manifest())
	if err != nil {
		a.log.Error().Err(err).Str("version", config.Version).Msg("Update failed")
		status := http.StatusBadGateway
		if errors.Is(err, alwaysoffline.ErrInvalidManifest) || errors.Is(err, alwaysoffline.ErrDuplicateAsset) {
			status = http.StatusUnprocessableEntity
		}
		a.writeJSON(w, status, errorBody(err))
		return
	}
	a.writeJSON(w, http.StatusOK, alwaysoffline.WorkerInfo{
		ID:      worker.ID(),
		Version: worker.Version(),
		State:   worker.State().String(),
	})
}

func (a *admin) releaseClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.reg.ReleaseClient(r.Context(), id) {
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown client " + id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func (a *admin) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error().Err(err).Msg("Could not write response body to client")
	}
}
