package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/port"
)

const (
	rateLimitProblemType  = "https://resqhub.example.com/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// IdentifierFunc extracts the identifier a rule counts against. Returning false skips the rule.
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule configures a sliding-window limit for a particular identifier.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

// RateLimiter enforces sliding-window rules against a shared store. Store failures
// are logged and the request is let through.
type RateLimiter struct {
	store    port.RateLimitStore
	logger   *zap.Logger
	now      func() time.Time
	onReject func(rule string)
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	Rule       string `json:"rule"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

// windowDecision is the outcome of one rule for one request.
type windowDecision struct {
	rule      string
	allowed   bool
	limit     int
	remaining int
	reset     time.Time
}

func (d windowDecision) retryAfterSeconds(now time.Time) int {
	return max(int(math.Ceil(d.reset.Sub(now).Seconds())), 0)
}

// tighter reports whether d should drive the response headers instead of other.
func (d windowDecision) tighter(other windowDecision) bool {
	if d.allowed != other.allowed {
		return !d.allowed
	}
	if d.remaining != other.remaining {
		return d.remaining < other.remaining
	}
	return d.reset.Before(other.reset)
}

func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{store: store, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// WithRejectHook registers a callback invoked with the rule name for every rejected request.
func (rl *RateLimiter) WithRejectHook(hook func(rule string)) *RateLimiter {
	rl.onReject = hook
	return rl
}

// MatchAnswerIdentifier scopes answer submissions to the authenticated user and the match
// in the path, so one caller cannot brute force a match's security questions.
func MatchAnswerIdentifier(param string) IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		userID, ok := GetAuthenticatedUserID(c)
		matchID := c.Param(param)
		if !ok || userID == "" || matchID == "" {
			return "", false
		}
		return userID + ":" + matchID, true
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules in order. The first
// exhausted rule rejects the request; otherwise the tightest rule sets the headers.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	active := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		active = append(active, rule)
	}

	return func(c *gin.Context) {
		if len(active) == 0 || rl.store == nil {
			c.Next()
			return
		}

		now := rl.now()
		var headline *windowDecision

		for _, rule := range active {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			decision, err := rl.check(c.Request.Context(), rule, rule.Name+":"+identifier, now)
			if err != nil {
				rl.logger.Warn("rate limit check failed",
					zap.String("rule", rule.Name),
					zap.String("identifier", identifier),
					zap.Error(err),
				)
				continue
			}

			if !decision.allowed {
				rl.logger.Info("rate limit exceeded", zap.String("rule", rule.Name), zap.String("identifier", identifier))
				rl.reject(c, decision, now)
				return
			}
			if headline == nil || decision.tighter(*headline) {
				headline = &decision
			}
		}

		if headline != nil {
			writeRateLimitHeaders(c.Writer.Header(), *headline, now)
		}
		c.Next()
	}
}

// check trims the window, then records the attempt only when the rule still has room.
func (rl *RateLimiter) check(ctx context.Context, rule RateLimitRule, key string, now time.Time) (windowDecision, error) {
	if err := rl.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
		return windowDecision{}, err
	}
	count, err := rl.store.CountAttempts(ctx, key, rule.Window, now)
	if err != nil {
		return windowDecision{}, err
	}
	oldest, found, err := rl.store.OldestAttempt(ctx, key, rule.Window, now)
	if err != nil {
		return windowDecision{}, err
	}

	decision := windowDecision{
		rule:    rule.Name,
		limit:   rule.Limit,
		allowed: count < rule.Limit,
		reset:   now.Add(rule.Window),
	}
	if found {
		decision.reset = oldest.Add(rule.Window)
	}
	if !decision.allowed {
		return decision, nil
	}

	if err := rl.store.RecordAttempt(ctx, key, now); err != nil {
		return windowDecision{}, err
	}
	decision.remaining = max(rule.Limit-count-1, 0)
	return decision, nil
}

func writeRateLimitHeaders(headers http.Header, d windowDecision, now time.Time) {
	headers.Set("X-RateLimit-Limit", strconv.Itoa(d.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.reset.Unix(), 10))
	if !d.allowed {
		headers.Set("Retry-After", strconv.Itoa(d.retryAfterSeconds(now)))
	}
}

func (rl *RateLimiter) reject(c *gin.Context, d windowDecision, now time.Time) {
	if rl.onReject != nil {
		rl.onReject(d.rule)
	}
	writeRateLimitHeaders(c.Writer.Header(), d, now)

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}
	retry := d.retryAfterSeconds(now)

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many requests. Try again in %d seconds.", retry),
		Instance:   instance,
		Rule:       d.rule,
		RetryAfter: retry,
		TraceID:    GetTraceID(c),
	})
}
