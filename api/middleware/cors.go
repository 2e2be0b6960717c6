package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{
	"http://localhost:3000",
	"https://buttonbid.app",
	"https://admin.buttonbid.app",
}

// CORS applies the browser origin policy. A non-empty origins list replaces
// the defaults.
func CORS(origins ...string) func(http.Handler) http.Handler {
	allowed := defaultCORSOrigins
	if cleaned := cleanOrigins(origins); len(cleaned) > 0 {
		allowed = cleaned
	}
	return cors.New(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			UserIDHeader,
			ActorRoleHeader,
			IdempotencyKeyHeader,
			requestIDHeader,
		},
		ExposedHeaders:   []string{requestIDHeader, replayedHeader, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           600,
	}).Handler
}

func cleanOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}
