package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		subject := userID(r, s.rateLimitUserIDHeader)
		subject = subject + ":" + routeLabel(r.URL.Path)

		decision, err := s.rateLimiter.AllowN(r.Context(), subject, requestCost(r))
		if err != nil {
			s.logger.WithError(err).WithField("subject", subject).Warn("rate limiter check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

// editCostBytes is the upload size one token pays for on /edit-image, where
// the edit runs inside the API process.
const editCostBytes = 8 << 20

func requestCost(r *http.Request) int {
	if r.URL.Path != "/edit-image" || r.ContentLength <= 0 {
		return 1
	}
	return 1 + int(r.ContentLength/editCostBytes)
}

func shouldRateLimit(r *http.Request) bool {
	if r.Method == http.MethodGet {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/v1/jobs") || strings.HasPrefix(r.URL.Path, "/edit-image")
}

func userID(r *http.Request, header string) string {
	if header == "" {
		return "anonymous"
	}
	subject := strings.TrimSpace(r.Header.Get(header))
	if subject == "" {
		return "anonymous"
	}
	return subject
}
