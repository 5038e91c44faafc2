package filter

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/gatehouse-proxy/gatehouse/src/config"
)

// Filter decides whether a request's declared user-agent is blocked. It is
// built once from the configured agent strings and is immutable afterwards,
// so it is safe for concurrent use without locking.
type Filter struct {
	pattern     *regexp.Regexp
	redirectURL string
	logger      *log.Logger
}

// New compiles the configured blocked-agent strings into a single
// case-insensitive matcher. Each configured string is matched literally as a
// substring of the user-agent header.
func New(cfg config.FilterConfig, logger *log.Logger) (*Filter, error) {
	filter := &Filter{
		redirectURL: cfg.RedirectURL,
		logger:      logger,
	}

	var quoted []string
	for _, agent := range cfg.BlockedUserAgents {
		if agent == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(agent))
	}

	if len(quoted) == 0 {
		return filter, nil
	}

	pattern, err := regexp.Compile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
	if err != nil {
		return nil, fmt.Errorf("can not compile blocked user-agent patterns: %w", err)
	}

	filter.pattern = pattern
	return filter, nil
}

// Blocked returns true if the user-agent matches any blocked pattern. A
// missing user-agent header is not treated as suspicious; callers should
// skip the check entirely when the header is absent.
func (filter *Filter) Blocked(userAgent string) bool {
	if filter.pattern == nil || !filter.pattern.MatchString(userAgent) {
		return false
	}

	filter.logger.Printf("filter: blocked user-agent %q, redirecting", userAgent)
	return true
}

// RedirectURL is the destination for blocked agents.
func (filter *Filter) RedirectURL() string {
	return filter.redirectURL
}
