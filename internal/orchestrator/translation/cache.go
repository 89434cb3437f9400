package translation

import (
	"strings"
	"time"

	"github.com/GriffinCanCode/lorelens/internal/config"
	"github.com/GriffinCanCode/lorelens/internal/syncx"
)

// Cache defaults.
const (
	DefaultCapacity = 500
	DefaultTTL      = time.Hour
	DefaultNameCap  = 200
)

// CacheConfig bounds the content cache and the name bindings.
type CacheConfig struct {
	Capacity int
	TTL      time.Duration
	NameCap  int
}

// DefaultCacheConfig returns the default bounds.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Capacity: DefaultCapacity, TTL: DefaultTTL, NameCap: DefaultNameCap}
}

type contentKey struct {
	speaker string
	content string
}

// Entry is a cached translation.
type Entry struct {
	Text    string
	Speaker string // translated speaker name
	stored  time.Time
}

type cacheState struct {
	entries map[contentKey]Entry
	order   []contentKey
	names   map[string]string
	nameOrd []string
	lore    config.Lore
}

// Cache holds translated content, name bindings and the current lore
// behind a single lock. The lock is never held across a provider call.
type Cache struct {
	cfg   CacheConfig
	state *syncx.Guard[cacheState]
	now   func() time.Time
}

// NewCache creates an empty cache using lore for prompts.
func NewCache(cfg CacheConfig, lore config.Lore) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.NameCap <= 0 {
		cfg.NameCap = DefaultNameCap
	}
	return &Cache{
		cfg: cfg,
		state: syncx.NewGuard(cacheState{
			entries: make(map[contentKey]Entry),
			names:   make(map[string]string),
			lore:    lore,
		}),
		now: time.Now,
	}
}

// Get returns the translation stored for content spoken by speaker.
// Expired entries miss and are overwritten by the next Put.
func (c *Cache) Get(speaker, content string) (Entry, bool) {
	now := c.now()
	var (
		e  Entry
		ok bool
	)
	c.state.Read(func(s *cacheState) {
		e, ok = s.entries[contentKey{speaker, content}]
	})
	if !ok || now.Sub(e.stored) > c.cfg.TTL {
		return Entry{}, false
	}
	return e, true
}

// Put stores a translation and evicts the oldest entries beyond capacity.
func (c *Cache) Put(speaker, content string, e Entry) {
	e.stored = c.now()
	key := contentKey{speaker, content}
	c.state.Write(func(s *cacheState) {
		if _, ok := s.entries[key]; !ok {
			s.order = append(s.order, key)
		}
		s.entries[key] = e
		for len(s.entries) > c.cfg.Capacity && len(s.order) > 0 {
			delete(s.entries, s.order[0])
			s.order = s.order[1:]
		}
	})
}

// Name returns the binding for a speaker name. Lookup is exact after
// normalization, so "Gulool Ja" never matches "Gulool Ja Ja".
func (c *Cache) Name(name string) (string, bool) {
	key := NormalizeName(name)
	var (
		v  string
		ok bool
	)
	c.state.Read(func(s *cacheState) { v, ok = s.names[key] })
	return v, ok
}

// BindName records the translation of a speaker name. When full, the
// oldest quarter of the bindings is dropped.
func (c *Cache) BindName(name, translated string) {
	key := NormalizeName(name)
	if key == "" {
		return
	}
	c.state.Write(func(s *cacheState) {
		if _, ok := s.names[key]; ok {
			s.names[key] = translated
			return
		}
		if len(s.names) >= c.cfg.NameCap {
			drop := max(1, c.cfg.NameCap/4)
			for _, k := range s.nameOrd[:drop] {
				delete(s.names, k)
			}
			s.nameOrd = s.nameOrd[drop:]
		}
		s.names[key] = translated
		s.nameOrd = append(s.nameOrd, key)
	})
}

// Lore returns the lore currently used for prompts.
func (c *Cache) Lore() config.Lore {
	return syncx.View(c.state, func(s *cacheState) config.Lore { return s.lore })
}

// Reload replaces the lore and clears both the content cache and the name
// bindings.
func (c *Cache) Reload(lore config.Lore) {
	c.state.Set(cacheState{
		entries: make(map[contentKey]Entry),
		names:   make(map[string]string),
		lore:    lore,
	})
}

// Len returns the number of cached translations and name bindings.
func (c *Cache) Len() (entries, names int) {
	c.state.Read(func(s *cacheState) {
		entries, names = len(s.entries), len(s.names)
	})
	return entries, names
}

// NormalizeName lowercases and collapses whitespace.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
