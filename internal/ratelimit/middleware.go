package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

const throttledBody = "Too many login attempts. Try again later."

// Classifier reports whether a request targets a login/registration endpoint
// subject to rate limiting. All other requests pass through untouched.
type Classifier func(r *http.Request) bool

// PathClassifier matches request paths containing any of the given fragments,
// case-insensitively.
func PathClassifier(fragments ...string) Classifier {
	lowered := make([]string, len(fragments))
	for i, f := range fragments {
		lowered[i] = strings.ToLower(f)
	}
	return func(r *http.Request) bool {
		path := strings.ToLower(r.URL.Path)
		for _, f := range lowered {
			if strings.Contains(path, f) {
				return true
			}
		}
		return false
	}
}

// Middleware gates classified requests through the limiter, keyed by client
// IP. Write methods consume attempt budget; reads do not. Throttled requests
// get a 429 with Retry-After and never reach the next handler.
func Middleware(l *Limiter, classify Classifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !classify(r) {
				next.ServeHTTP(w, r)
				return
			}
			d := l.Check(clientIP(r), isWrite(r.Method))
			if !d.Allowed {
				secs := int(d.RetryAfter.Seconds())
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, throttledBody, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// clientIP returns the request's remote IP. chi's RealIP middleware has
// already folded X-Forwarded-For/X-Real-IP into RemoteAddr upstream.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
