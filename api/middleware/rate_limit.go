package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/buttonbid-backend/api/responses"
	pkgerrors "github.com/angelmondragon/buttonbid-backend/pkg/errors"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// RateLimitPolicy is a fixed-window budget for one traffic surface, counted
// separately per client IP and per authenticated user. A zero limit turns
// that dimension off.
type RateLimitPolicy struct {
	name      string
	window    time.Duration
	ipLimit   int
	userLimit int
}

func NewRateLimitPolicy(name string, window time.Duration, ipLimit, userLimit int) RateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "bids"
	}
	return RateLimitPolicy{name: name, window: window, ipLimit: ipLimit, userLimit: userLimit}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.userLimit > 0)
}

// budget is one counter a request must stay under.
type budget struct {
	scope   string
	subject string
	limit   int
}

func (b budget) key(policy string) string {
	return "rl:" + b.scope + ":" + policy + ":" + b.subject
}

// budgets lists the counters r is charged against, skipping dimensions that
// are disabled or have no subject.
func (p RateLimitPolicy) budgets(r *http.Request) []budget {
	var out []budget
	if ip := clientIP(r); p.ipLimit > 0 && ip != "" {
		out = append(out, budget{scope: "ip", subject: ip, limit: p.ipLimit})
	}
	if user := UserIDFromContext(r.Context()); p.userLimit > 0 && user != "" {
		out = append(out, budget{scope: "user", subject: user, limit: p.userLimit})
	}
	return out
}

// RateLimit rejects requests over budget with RATE_LIMIT_EXCEEDED and a Retry-After
// of one window. Mount it after Actor so the user budget sees the caller.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			for _, b := range policy.budgets(r) {
				count, err := store.IncrWithTTL(ctx, b.key(policy.name), policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if count > int64(b.limit) {
					rejectOverBudget(ctx, logg, w, policy, b, count)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rejectOverBudget(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy RateLimitPolicy, b budget, count int64) {
	retryAfter := int(policy.window.Seconds())
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"policy":         policy.name,
			"scope":          b.scope,
			"subject":        b.subject,
			"attempts":       count,
			"limit":          b.limit,
			"window_seconds": retryAfter,
		}), "rate_limit.blocked")
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := strings.TrimSpace(hop); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
