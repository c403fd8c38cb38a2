package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows the configured browser origins to call the API. With no
// origins configured every cross-origin request is refused.
func CORS(origins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
	})
	return c.Handler
}
