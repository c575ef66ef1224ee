package httpapi

import (
	"net/http"
	"regexp"
)

// qualtricsOrigin matches the survey platform's apex domain and its
// per-tenant subdomains, where the study pages are hosted.
var qualtricsOrigin = regexp.MustCompile(`^https://([a-z0-9-]+\.)*qualtrics\.com$`)

// corsPolicy allows the survey platform, local development, and one
// optional deployment-specific origin.
type corsPolicy struct {
	exact map[string]bool
}

func newCORSPolicy(extraOrigin string) *corsPolicy {
	exact := map[string]bool{
		"http://localhost:8000": true,
		"http://127.0.0.1:8000": true,
	}
	if extraOrigin != "" {
		exact[extraOrigin] = true
	}
	return &corsPolicy{exact: exact}
}

func (p *corsPolicy) allowed(origin string) bool {
	if origin == "" {
		return false
	}
	return p.exact[origin] || qualtricsOrigin.MatchString(origin)
}

func (p *corsPolicy) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if p.allowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
