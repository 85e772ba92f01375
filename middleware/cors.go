package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig holds the configuration for CORS middleware.
type CORSConfig struct {
	// AllowOrigins lists the origins allowed to make cross-origin requests.
	// "*" allows any origin. Default: ["*"]
	AllowOrigins []string

	// AllowMethods is sent in preflight responses.
	// Default: ["GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"]
	AllowMethods []string

	// AllowHeaders is sent in preflight responses.
	// Default: ["X-Requested-With", "Content-Type", "Authorization"]
	AllowHeaders []string

	// ExposeHeaders lists response headers readable by the browser.
	// Default: ["X-Request-Id"]
	ExposeHeaders []string

	// MaxAge is how long in seconds a preflight result may be cached.
	// Zero omits the header.
	MaxAge int
}

// MatrixCORS returns the CORS policy Matrix servers are expected to serve:
// any origin, the standard methods, and the headers clients send.
func MatrixCORS() *CORSConfig {
	return &CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"X-Requested-With", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"X-Request-Id"},
	}
}

// CORS returns an HTTP middleware that sets CORS headers and answers
// preflight requests. A nil cfg means MatrixCORS().
//
// Requests are authorized with tokens or signatures rather than cookies, so
// credentials mode is never enabled.
func CORS(cfg *CORSConfig) func(http.Handler) http.Handler {
	def := MatrixCORS()
	if cfg == nil {
		cfg = def
	}
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = def.AllowOrigins
	}
	methods := cfg.AllowMethods
	if len(methods) == 0 {
		methods = def.AllowMethods
	}
	headers := cfg.AllowHeaders
	if len(headers) == 0 {
		headers = def.AllowHeaders
	}
	exposed := cfg.ExposeHeaders
	if exposed == nil {
		exposed = def.ExposeHeaders
	}

	anyOrigin := slices.Contains(origins, "*")
	methodsStr := strings.Join(methods, ", ")
	headersStr := strings.Join(headers, ", ")
	exposedStr := strings.Join(exposed, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case anyOrigin:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			if exposedStr != "" {
				w.Header().Set("Access-Control-Expose-Headers", exposedStr)
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", methodsStr)
				w.Header().Set("Access-Control-Allow-Headers", headersStr)
				if cfg.MaxAge > 0 {
					w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
