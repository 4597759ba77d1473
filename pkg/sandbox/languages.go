package sandbox

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LanguageSpec maps an internal language id to the sandbox's language name.
type LanguageSpec struct {
	Name      string
	Extension string
}

var languageTable = map[string]LanguageSpec{
	"python":     {Name: "python", Extension: "py"},
	"javascript": {Name: "javascript", Extension: "js"},
	"typescript": {Name: "typescript", Extension: "ts"},
	"java":       {Name: "java", Extension: "java"},
	"c#":         {Name: "csharp", Extension: "cs"},
	"csharp":     {Name: "csharp", Extension: "cs"},
	"go":         {Name: "go", Extension: "go"},
	"rust":       {Name: "rust", Extension: "rs"},
	"php":        {Name: "php", Extension: "php"},
	"ruby":       {Name: "ruby", Extension: "rb"},
	"sql":        {Name: "sqlite3", Extension: "sql"},
	"sqlite":     {Name: "sqlite3", Extension: "sql"},
	"c":          {Name: "c", Extension: "c"},
	"c++":        {Name: "cpp", Extension: "cpp"},
	"cpp":        {Name: "cpp", Extension: "cpp"},
}

// ResolveLanguage looks up the sandbox language for an internal id (case-insensitive).
func ResolveLanguage(language string) (LanguageSpec, bool) {
	spec, ok := languageTable[strings.ToLower(strings.TrimSpace(language))]
	return spec, ok
}

// SupportedLanguages lists the accepted internal ids in sorted order.
func SupportedLanguages() []string {
	names := make([]string, 0, len(languageTable))
	for name := range languageTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const anyVersion = "*"

// RuntimeFetcher loads the runtimes listing.
type RuntimeFetcher func(ctx context.Context) ([]Runtime, error)

// RuntimeCatalog caches the runtimes listing so versions can be pinned without a
// lookup per request. Safe for concurrent use.
type RuntimeCatalog struct {
	fetch      RuntimeFetcher
	ttl        time.Duration
	failureTTL time.Duration
	now        func() time.Time

	refreshMu sync.Mutex
	mu        sync.RWMutex
	versions  map[string]string
	expiresAt time.Time
}

// NewRuntimeCatalog builds a catalog backed by fetch.
func NewRuntimeCatalog(fetch RuntimeFetcher, ttl time.Duration) *RuntimeCatalog {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RuntimeCatalog{
		fetch:      fetch,
		ttl:        ttl,
		failureTTL: time.Minute,
		now:        time.Now,
	}
}

// Version returns the concrete version for a sandbox language, or "*" when the
// listing is unavailable or does not mention it.
func (c *RuntimeCatalog) Version(ctx context.Context, language string) string {
	if c == nil || c.fetch == nil {
		return anyVersion
	}

	if version, fresh := c.lookup(language); fresh {
		return version
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// another caller may have refreshed while we waited
	if version, fresh := c.lookup(language); fresh {
		return version
	}

	_ = c.refresh(ctx)
	version, _ := c.lookup(language)
	return version
}

func (c *RuntimeCatalog) lookup(language string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fresh := c.versions != nil && c.now().Before(c.expiresAt)
	if version, ok := c.versions[language]; ok {
		return version, fresh
	}
	return anyVersion, fresh
}

// Refresh reloads the runtimes listing.
func (c *RuntimeCatalog) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refresh(ctx)
}

func (c *RuntimeCatalog) refresh(ctx context.Context) error {
	runtimes, err := c.fetch(ctx)
	if err != nil {
		c.mu.Lock()
		if c.versions == nil {
			c.versions = map[string]string{}
		}
		c.expiresAt = c.now().Add(c.failureTTL)
		c.mu.Unlock()
		return err
	}

	versions := make(map[string]string, len(runtimes))
	for _, rt := range runtimes {
		for _, name := range append([]string{rt.Language}, rt.Aliases...) {
			if current, ok := versions[name]; !ok || compareVersions(rt.Version, current) > 0 {
				versions[name] = rt.Version
			}
		}
	}

	c.mu.Lock()
	c.versions = versions
	c.expiresAt = c.now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

// compareVersions compares dotted numeric versions; non-numeric parts compare lexically.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		if x == y {
			continue
		}
		xn, xok := atoi(x)
		yn, yok := atoi(y)
		if xok && yok {
			if xn < yn {
				return -1
			}
			return 1
		}
		if x < y {
			return -1
		}
		return 1
	}
	return 0
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}
