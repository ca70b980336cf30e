// File: internal/fallback/classify.go
package fallback

import (
	"strings"

	"github.com/xkilldash9x/droidpilot-cli/internal/config"
)

// ErrorClass buckets a model API failure into a category that decides
// whether switching providers can help.
type ErrorClass int

const (
	// ClassUnknown covers anything the patterns below do not match.
	ClassUnknown ErrorClass = iota
	// ClassRateLimit is HTTP 429 and its many textual disguises.
	ClassRateLimit
	// ClassAuth is HTTP 401/403, bad keys, exhausted billing.
	ClassAuth
	// ClassTimeout is a request that never came back.
	ClassTimeout
	// ClassServer is HTTP 5xx, a transient provider-side failure.
	ClassServer
	// ClassClient is HTTP 400 and friends; a request every provider
	// would reject the same way.
	ClassClient
	// ClassNetwork is DNS, refused connections, unreachable hosts.
	ClassNetwork
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRateLimit:
		return "rate_limit"
	case ClassAuth:
		return "auth"
	case ClassTimeout:
		return "timeout"
	case ClassServer:
		return "server"
	case ClassClient:
		return "client"
	case ClassNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Pattern tables are checked in order; the first class with a hit wins, so
// "429 ... authentication" reads as a rate limit, which is the safer call.
var classPatterns = []struct {
	class    ErrorClass
	patterns []string
}{
	{ClassRateLimit, []string{
		"429", "rate limit", "rate_limit", "too many requests",
		"quota exceeded", "tokens per minute", "requests per minute",
	}},
	{ClassAuth, []string{
		"401", "403", "unauthorized", "forbidden",
		"invalid api key", "invalid_api_key", "authentication",
		"billing", "insufficient_quota",
	}},
	{ClassTimeout, []string{
		"timeout", "timed out", "deadline exceeded", "request took too long",
	}},
	{ClassServer, []string{
		"500", "502", "503", "504", "internal server error",
		"bad gateway", "service unavailable", "overloaded",
	}},
	{ClassClient, []string{
		"400", "invalid request", "model not found", "context_length_exceeded",
	}},
	{ClassNetwork, []string{
		"connection refused", "dns", "network", "unreachable",
	}},
}

// Classify maps an error string to a class. Providers format failures
// inconsistently, so matching is deliberately fuzzy substring work.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	lower := strings.ToLower(err.Error())
	for _, entry := range classPatterns {
		for _, p := range entry.patterns {
			if strings.Contains(lower, p) {
				return entry.class
			}
		}
	}
	return ClassUnknown
}

// ShouldFailover reports whether this class of error justifies moving to
// another provider. Client errors never do; the request would fail
// identically everywhere.
func (c ErrorClass) ShouldFailover(cfg config.FallbackConfig) bool {
	switch c {
	case ClassRateLimit:
		return cfg.OnRateLimit
	case ClassAuth:
		return cfg.OnAuthError
	case ClassTimeout:
		return cfg.OnTimeout
	case ClassServer, ClassNetwork:
		return true
	default:
		return false
	}
}
