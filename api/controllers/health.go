package controllers

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/codevault-backend/api/responses"
	"github.com/angelmondragon/codevault-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
)

const (
	envHeader        = "X-CodeVault-Env"
	readinessTimeout = 2 * time.Second
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings Postgres and Redis in parallel and reports 503 when either is down.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbPinger, redisPinger pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{"database": "ok", "redis": "ok"}
		results := make([]error, 2)
		g, gctx := errgroup.WithContext(ctx)
		for i, dep := range []pinger{dbPinger, redisPinger} {
			g.Go(func() error {
				if dep == nil {
					results[i] = pkgerrors.New(pkgerrors.CodeDependency, "not configured")
					return nil
				}
				results[i] = dep.Ping(gctx)
				return nil
			})
		}
		_ = g.Wait()

		var failed error
		for i, name := range []string{"database", "redis"} {
			if results[i] != nil {
				checks[name] = "unavailable"
				failed = pkgerrors.Wrap(pkgerrors.CodeDependency, results[i], name+" ping failed").WithDetails(map[string]any{"checks": checks})
			}
		}
		if failed != nil {
			responses.WriteError(r.Context(), logg, w, failed)
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
