package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/cors"

	"github.com/angelmondragon/tradeline-backend/pkg/config"
)

const localOrigin = "http://localhost:3000"

// CORS admits the configured browser origins. Webhooks and server-to-server
// calls carry no Origin and pass through untouched.
func CORS(app config.AppConfig) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins(app),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}

func allowedOrigins(app config.AppConfig) []string {
	origins := make([]string, 0, len(app.CORSOrigins)+1)
	for _, origin := range app.CORSOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" && origin != "*" && !slices.Contains(origins, origin) {
			origins = append(origins, origin)
		}
	}
	if app.IsDev() && !slices.Contains(origins, localOrigin) {
		origins = append(origins, localOrigin)
	}
	return origins
}
