package redirect

import (
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// dollarPattern finds every $ together with the group reference it may start.
var dollarPattern = regexp.MustCompile(`\$(\d+|\{\d+\})?`)

func compilePattern(source string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + source)
}

// patternCache keeps compiled rule patterns keyed by source. Sources that
// fail to compile are remembered as nil so they are only logged once.
type patternCache struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

func newPatternCache() *patternCache {
	return &patternCache{compiled: make(map[string]*regexp.Regexp)}
}

func (c *patternCache) get(source string) *regexp.Regexp {
	c.mu.RLock()
	re, ok := c.compiled[source]
	c.mu.RUnlock()
	if ok {
		return re
	}

	re, err := compilePattern(source)
	if err != nil {
		log.Warn().Err(err).Str("source", source).Msg("stored redirect pattern does not compile, rule will never match")
		re = nil
	}

	c.mu.Lock()
	c.compiled[source] = re
	c.mu.Unlock()

	return re
}

// retain drops compiled patterns whose source no longer belongs to a regex rule.
func (c *patternCache) retain(rules []Rule) {
	keep := lo.Keyify(lo.FilterMap(rules, func(r Rule, _ int) (string, bool) {
		return r.Source, r.Regex
	}))

	c.mu.Lock()
	defer c.mu.Unlock()
	for source := range c.compiled {
		if _, ok := keep[source]; !ok {
			delete(c.compiled, source)
		}
	}
}

func (c *patternCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.compiled)
}

// expandDestination substitutes capture groups of re, matched against path,
// into destination. Only numbered references ($1, ${1}) are groups; $1 is
// rewritten to ${1} so trailing letters stay literal, and any other $ is
// escaped so text like $usd survives.
func expandDestination(re *regexp.Regexp, path, destination string) string {
	if !strings.Contains(destination, "$") {
		return destination
	}
	template := dollarPattern.ReplaceAllStringFunc(destination, func(ref string) string {
		switch {
		case ref == "$":
			return "$$"
		case strings.HasPrefix(ref, "${"):
			return ref
		}
		return "${" + ref[1:] + "}"
	})
	return re.ReplaceAllString(path, template)
}
