package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/readlater/readlater/internal/api/models"
)

// RateLimitConfig is one rate limited export endpoint group.
type RateLimitConfig struct {
	// Scope prefixes the limiter keys and names the group in problems.
	Scope        string
	RequestLimit int
	WindowLength time.Duration
}

var (
	// ExportCreateRateLimit bounds POST /v1/gdpr/export-requests. Every
	// export walks the user's whole library.
	ExportCreateRateLimit = RateLimitConfig{
		Scope:        "export-create",
		RequestLimit: 5,
		WindowLength: time.Hour,
	}

	// ExportReadRateLimit bounds listing and polling export requests.
	ExportReadRateLimit = RateLimitConfig{
		Scope:        "export-read",
		RequestLimit: 100,
		WindowLength: time.Minute,
	}
)

// RateLimit limits requests per user within cfg.Scope, falling back to the
// client address before authentication.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(cfg.key),
		httprate.WithLimitHandler(cfg.exceeded),
	)
}

func (c RateLimitConfig) key(r *http.Request) (string, error) {
	if userID := GetUserID(r.Context()); userID != "" {
		return c.Scope + ":user:" + userID, nil
	}
	ip, err := httprate.KeyByRealIP(r)
	if err != nil {
		return "", err
	}
	return c.Scope + ":ip:" + ip, nil
}

func (c RateLimitConfig) exceeded(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", strconv.Itoa(c.retryAfter(w.Header(), time.Now())))

	problemType := models.ProblemTypeTooManyRequests
	detail := "rate limit exceeded, try again later"
	if c.Scope == ExportCreateRateLimit.Scope {
		problemType = models.ProblemTypeExportRateLimited
		detail = "at most " + strconv.Itoa(c.RequestLimit) + " export requests per " + c.WindowLength.String()
	}

	problem := models.NewProblem(problemType, GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// retryAfter returns the seconds until the limiter window resets, read from
// the X-RateLimit-Reset header httprate sets, or the whole window without it.
func (c RateLimitConfig) retryAfter(h http.Header, now time.Time) int {
	window := int(c.WindowLength / time.Second)
	reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return window
	}
	secs := int(reset - now.Unix())
	if secs < 1 {
		return 1
	}
	if secs > window {
		return window
	}
	return secs
}
