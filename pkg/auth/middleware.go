package auth

import (
	"net"
	"net/http"
	"strings"

	"supportchat/pkg/logger"
	"supportchat/pkg/utils"
)

// Middleware handles CORS, identity resolution and rate limiting for every
// request. Identity comes from one of:
//   - Authorization: Bearer <jwt> (customers and admins; ws clients may
//     pass the same token via the `token` query parameter instead, since
//     browsers cannot set headers on websocket upgrades)
//   - X-API-Key backend key + X-Participant-ID / X-Participant-Role
//     headers (trusted server-to-server callers)
//
// /healthz, /readyz and /metrics stay reachable without credentials.
func Middleware(cfg SecConfig) func(http.Handler) http.Handler {
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.LogRequest(r)

			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key,X-Participant-ID,X-Participant-Role")
				w.Header().Set("Access-Control-Max-Age", "600")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if unauthenticatedPath(r.URL.Path) && r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			id, key, err := resolveIdentity(r, cfg)
			if err != nil {
				logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
				utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			if !limiters.Allow(key) {
				logger.Warn("rate_limited", "participant", id.Participant, "path", r.URL.Path)
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func unauthenticatedPath(p string) bool {
	return p == "/healthz" || p == "/readyz" || p == "/metrics"
}

// resolveIdentity returns the caller identity plus the rate-limit key for
// the request.
func resolveIdentity(r *http.Request, cfg SecConfig) (Identity, string, error) {
	// trusted backend callers
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		if _, ok := cfg.BackendKeys[apiKey]; ok {
			role, err := parseRole(r.Header.Get("X-Participant-Role"))
			if err != nil {
				return Identity{}, "", err
			}
			participant := strings.TrimSpace(r.Header.Get("X-Participant-ID"))
			if participant == "" {
				return Identity{}, "", errMissingParticipant
			}
			return Identity{Participant: participant, Role: role}, apiKey, nil
		}
	}

	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return Identity{}, "", errMissingCredentials
	}
	id, err := ParseToken(token, cfg.JWTSecret)
	if err != nil {
		return Identity{}, "", err
	}
	// rate limit per participant; fall back to remote IP when absent
	key := id.Participant
	if key == "" {
		key = clientIP(r)
	}
	return id, key, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
