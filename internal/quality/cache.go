package quality

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultPatternCacheSize bounds the number of compiled blacklist patterns kept.
const DefaultPatternCacheSize = 512

// PatternCache memoizes compiled regular expressions across runs.
type PatternCache struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

// NewPatternCache creates a cache holding up to size patterns.
func NewPatternCache(size int) *PatternCache {
	if size <= 0 {
		size = DefaultPatternCacheSize
	}
	c, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		// Only returned for a non-positive size, excluded above.
		panic(err)
	}
	return &PatternCache{cache: c}
}

// Compile returns the compiled form of expr, compiling it on a miss.
func (p *PatternCache) Compile(expr string) (*regexp.Regexp, error) {
	if re, ok := p.cache.Get(expr); ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	p.cache.Add(expr, re)
	return re, nil
}

// Len returns the number of cached patterns.
func (p *PatternCache) Len() int {
	return p.cache.Len()
}
