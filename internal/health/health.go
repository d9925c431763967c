package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CacheStatus is satisfied by the subscription cache Directory. A disabled
// cache is degraded operation, not unhealthy: deliveries still run against
// storage.
type CacheStatus interface {
	Enabled() bool
}

type Status struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message,omitempty"`
	Database bool   `json:"database,omitempty"`
	Cache    *bool  `json:"cache,omitempty"`
}

// HTTPHandler reports process health: a 1s database ping when a pool is
// provided, plus the cache state when one is wired. Only a failed database
// ping returns 503.
func HTTPHandler(pool *pgxpool.Pool, cache CacheStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Database: true}

		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				st.OK = false
				st.Message = "db ping failed"
				st.Database = false
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		}
		if cache != nil {
			enabled := cache.Enabled()
			st.Cache = &enabled
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}
