// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key handling for proposal submission.
// IdempotencyValidator checks the header on unsafe methods, stashes the key,
// and asks a lookup whether (client, key) already produced a stored proposal.
// On a hit the request is flagged as a replay: the handler answers from the
// stored record and the rate limiter lets it through for free.
//
// Keys are scoped per client (see ClientID) so two callers may reuse the same
// key without colliding.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: a stored result exists
	ctxKeyRateBypass = "rate.bypass" // bool: skip rate limiting
)

const defaultIdempotencyMaxLen = 200

var (
	defaultIdempotencyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	defaultIdempotencyMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
)

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether a stored result exists for this client and key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Methods the header applies to; nil means POST, PUT, PATCH and DELETE.
	// On other methods the header is ignored.
	Methods []string
}

// IdempotencyLookup reports whether a still-valid record exists for
// (clientID, key) at now. Expiry is the lookup's concern. Errors are logged
// and treated as a miss.
type IdempotencyLookup func(ctx context.Context, clientID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header and marks replays.
//
//   - Header absent or method not covered: no-op.
//   - Header malformed: 400 with the standard error envelope.
//   - Lookup hit: sets the replay and rate-bypass flags.
//
// It never serves the cached payload itself.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdempotencyMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdempotencyPattern
	}
	methods := opts.Methods
	if methods == nil {
		methods = defaultIdempotencyMethods
	}
	covered := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		covered[strings.ToUpper(m)] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := covered[c.Request.Method]; !ok {
			c.Next()
			return
		}
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_request",
				"message":    "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			client := ClientID(c)
			exists, err := lookup(c.Request.Context(), client, key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			}
			if exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// ClientID identifies the caller for idempotency scoping, rate limiting and
// logs. An authenticated "userID" set upstream wins; otherwise the client IP
// is used.
func ClientID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return "user:" + s
		}
	}
	return "ip:" + c.ClientIP()
}
