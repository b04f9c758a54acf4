package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/auth"
	"github.com/PaulBabatuyi/realtyhub/internal/ids"
	"github.com/PaulBabatuyi/realtyhub/internal/obs"
)

// TokenHeader carries a rotated credential pair back to the client.
const TokenHeader = "token"

// requestLog tags the request with an id and writes one access log line.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = ids.RequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		start := time.Now()
		sw := &obs.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.Code,
			"duration", time.Since(start),
			"request_id", reqID,
		)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	allowAll := len(s.allowedOrigins) == 0
	set := make(map[string]bool, len(s.allowedOrigins))
	for _, o := range s.allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		set[strings.TrimRight(o, "/")] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || set[origin]) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Expose-Headers", TokenHeader+", X-Request-ID")
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate verifies the credential bundle. When only the refresh half
// was valid the rotated pair is returned in the token header.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bundle := r.Header.Get("Authorization")
		if bundle == "" {
			s.writeError(w, r, fmt.Errorf("%w: missing authorization header", apperr.ErrUnauthenticated))
			return
		}
		claims, rotated, err := s.jwt.Verify(bundle)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if rotated != nil {
			w.Header().Set(TokenHeader, rotated.String())
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
	})
}

func claimsOf(r *http.Request) *auth.Claims {
	c, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		// routes behind authenticate always carry claims
		panic("httpapi: request without claims")
	}
	return c
}
