package controllers

import (
	"net/http"

	"github.com/ggmarket/ggmarket-backend/api/responses"
	"github.com/ggmarket/ggmarket-backend/pkg/config"
	"github.com/ggmarket/ggmarket-backend/pkg/db"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
	"github.com/ggmarket/ggmarket-backend/pkg/redis"
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-GGMarket-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-GGMarket-Env", cfg.App.Env)

		checks := map[string]string{}
		healthy := true

		if dbP != nil {
			if err := dbP.Ping(r.Context()); err != nil {
				checks["postgres"] = "down"
				healthy = false
				if logg != nil {
					logg.Error(r.Context(), "readiness: postgres unreachable", err)
				}
			} else {
				checks["postgres"] = "ok"
			}
		}
		if redisP != nil {
			if err := redisP.Ping(r.Context()); err != nil {
				checks["redis"] = "down"
				healthy = false
				if logg != nil {
					logg.Error(r.Context(), "readiness: redis unreachable", err)
				}
			} else {
				checks["redis"] = "ok"
			}
		}

		if !healthy {
			err := pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(checks)
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
