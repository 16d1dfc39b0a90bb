package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/keymarket-backend/api/responses"
	"github.com/angelmondragon/keymarket-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
)

const (
	envHeader    = "X-Keymarket-Env"
	readyTimeout = 2 * time.Second
)

// Pinger is anything readiness depends on.
type Pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports 503 with the failing dependency names when any
// dependency does not answer a ping.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		failed := map[string]string{}
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(failed))
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
