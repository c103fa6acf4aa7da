package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/obslog"
	"github.com/Onegaishimas/bin2nlp/internal/obsmetrics"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

type ctxKey int

const (
	ctxSession ctxKey = iota
)

// sessionFrom extracts the authenticated Session a prior middleware stage
// attached to the request context.
func sessionFrom(ctx context.Context) (*types.Session, bool) {
	sess, ok := ctx.Value(ctxSession).(*types.Session)
	return sess, ok
}

// authMiddleware resolves the bearer token on every request into an
// authenticated Session, rejecting the request otherwise. Bin2nlp has no
// anonymous tier: every submission and status poll is tenant-scoped.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, bin2nlperr.New(bin2nlperr.Authentication, "httpapi", "missing bearer token"))
			return
		}
		sess, err := s.deps.Sessions.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxSession, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

// metricsMiddleware records HTTPRequestsTotal/HTTPRequestDuration per
// routePattern, using chi's matched route template rather than the raw
// path so per-tenant path segments (job ids) don't explode cardinality.
func metricsMiddleware(routePattern string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := obsmetrics.NewTimer()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rw, r)
		timer.ObserveDurationVec(obsmetrics.HTTPRequestDuration, routePattern)
		obsmetrics.HTTPRequestsTotal.WithLabelValues(routePattern, strconv.Itoa(rw.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogMiddleware logs one line per request at debug level, styled
// after chi's middleware.Logger but routed through the service's own
// zerolog logger instead of chi's default stdlib logger.
func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		obslog.WithComponent("httpapi").Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.status).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}
