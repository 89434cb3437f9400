// Package capture polls screen areas, skips OCR for areas whose pixels have
// not changed, and hands observations to the pipeline.
package capture

import (
	"image"
	"slices"
	"time"

	"github.com/corona10/goimagehash"
)

// Signature grid. 16x16 block means (256 bits) are enough to see a new line
// of dialogue while ignoring compression noise.
const (
	SignatureWidth  = 16
	SignatureHeight = 16
)

// Signature computes the block-mean fingerprint of img.
func Signature(img image.Image) (*goimagehash.ExtImageHash, error) {
	return goimagehash.ExtAverageHash(img, SignatureWidth, SignatureHeight)
}

// CacheConfig tunes a SignatureCache.
type CacheConfig struct {
	Capacity  int           // areas kept; the oldest entry is evicted beyond this
	Tolerance int           // max Hamming distance still counted as unchanged
	BaseTTL   time.Duration // lifetime of an empty text entry
	MaxTTL    time.Duration // cap for long text
}

// DefaultCacheConfig returns the defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Capacity: 10, Tolerance: 4, BaseTTL: 5 * time.Second, MaxTTL: 30 * time.Second}
}

type sigEntry struct {
	sig     *goimagehash.ExtImageHash
	text    string
	expires time.Time
}

// SignatureCache remembers the last OCR result per area keyed by the image
// signature it came from. It is owned by the capture goroutine and is not
// safe for concurrent use.
type SignatureCache struct {
	cfg     CacheConfig
	entries map[string]*sigEntry
	order   []string // area ids, oldest insertion first
	now     func() time.Time
}

// NewSignatureCache creates an empty cache.
func NewSignatureCache(cfg CacheConfig) *SignatureCache {
	def := DefaultCacheConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = 0
	}
	if cfg.BaseTTL <= 0 {
		cfg.BaseTTL = def.BaseTTL
	}
	if cfg.MaxTTL < cfg.BaseTTL {
		cfg.MaxTTL = cfg.BaseTTL
	}
	return &SignatureCache{cfg: cfg, entries: make(map[string]*sigEntry), now: time.Now}
}

// TTL returns how long text stays cached: base*(1+len/100), capped.
// Long static blocks live longer than short volatile lines.
func (c *SignatureCache) TTL(text string) time.Duration {
	ttl := time.Duration(float64(c.cfg.BaseTTL) * (1 + float64(len([]rune(text)))/100))
	return min(ttl, c.cfg.MaxTTL)
}

// Lookup returns the cached text for area if sig matches the stored
// signature within tolerance and the entry has not expired.
func (c *SignatureCache) Lookup(area string, sig *goimagehash.ExtImageHash) (string, bool) {
	e, ok := c.entries[area]
	if !ok || sig == nil {
		return "", false
	}
	if !c.now().Before(e.expires) {
		c.remove(area)
		return "", false
	}
	dist, err := e.sig.Distance(sig)
	if err != nil || dist > c.cfg.Tolerance {
		return "", false
	}
	return e.text, true
}

// Store records the OCR text for area under sig.
func (c *SignatureCache) Store(area string, sig *goimagehash.ExtImageHash, text string) {
	if sig == nil {
		return
	}
	now := c.now()
	if _, ok := c.entries[area]; ok {
		c.remove(area)
	}
	c.entries[area] = &sigEntry{sig: sig, text: text, expires: now.Add(c.TTL(text))}
	c.order = append(c.order, area)

	for len(c.order) > c.cfg.Capacity {
		c.remove(c.order[0])
	}
}

// Len returns the number of cached areas.
func (c *SignatureCache) Len() int { return len(c.entries) }

// Clear drops every entry.
func (c *SignatureCache) Clear() {
	clear(c.entries)
	c.order = c.order[:0]
}

func (c *SignatureCache) remove(area string) {
	delete(c.entries, area)
	if i := slices.Index(c.order, area); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
}
