package ids

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// Generator mints readable unique ids of the shape "<slug>-<hash>"
// (or "<slug>-<hash>-N" on collision). The slug keeps run ids and
// section ids recognizable in logs and URLs.
type Generator struct {
	mu      sync.Mutex
	used    map[string]struct{}
	counter map[string]int
}

// NewGenerator creates a generator with optional pre-reserved ids.
func NewGenerator(existing ...string) *Generator {
	g := &Generator{
		used:    make(map[string]struct{}, len(existing)+8),
		counter: make(map[string]int, len(existing)+8),
	}
	for _, id := range existing {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		g.used[id] = struct{}{}
	}
	return g
}

// Generate returns a unique id derived from seed.
func (g *Generator) Generate(seed string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	base := baseFromSeed(seed)
	if _, ok := g.used[base]; !ok {
		g.used[base] = struct{}{}
		g.counter[base] = 1
		return base
	}
	n := g.counter[base]
	if n < 1 {
		n = 1
	}
	for {
		n++
		candidate := fmt.Sprintf("%s-%d", base, n)
		if _, exists := g.used[candidate]; exists {
			continue
		}
		g.used[candidate] = struct{}{}
		g.counter[base] = n
		return candidate
	}
}

func baseFromSeed(seed string) string {
	seed = strings.TrimSpace(seed)
	slug := slugify(seed)
	if slug == "" {
		slug = "id"
	}
	return fmt.Sprintf("%s-%s", slug, shortHash(seed))
}

func shortHash(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%08x", uint32(h.Sum64()&0xffffffff))
}

// slugify keeps the first few words of the seed as a lowercase
// dash-separated prefix.
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	var b strings.Builder
	words := 0
	lastDash := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				if words++; words >= 4 {
					return strings.Trim(b.String(), "-")
				}
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
