// Package translation turns classified dialogue into translated text. It
// caches results per speaker and content, binds speaker names to stable
// translations and guards the provider with a circuit breaker.
package translation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/GriffinCanCode/lorelens/internal/config"
	apperrors "github.com/GriffinCanCode/lorelens/internal/errors"
	"github.com/GriffinCanCode/lorelens/internal/observe"
	"github.com/GriffinCanCode/lorelens/internal/provider"
	"github.com/GriffinCanCode/lorelens/internal/resilience"
	"github.com/GriffinCanCode/lorelens/internal/trace"
	"github.com/GriffinCanCode/lorelens/pkg/types"
)

// Completeness heuristic.
const (
	incompleteMinSource = 50  // only sources longer than this are checked
	incompleteRatio     = 0.3 // translated/source length below this is suspect
	retryGain           = 1.2 // a retry is kept only when this much longer
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 20 * time.Second

// ContextSource supplies recent dialogue lines for prompts.
type ContextSource interface {
	Context(n int, window time.Duration) []string
}

// Config configures a Translator.
type Config struct {
	ProviderName   string
	SourceLanguage string
	TargetLanguage string
	Temperature    float64
	MaxTokens      int
	Timeout        time.Duration
	UnknownSpeaker string

	ContextLines  int
	ContextWindow time.Duration

	Cache   CacheConfig
	Breaker resilience.Config
}

// ConfigFrom builds a translator config from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ProviderName:   cfg.Provider.Name,
		SourceLanguage: cfg.Provider.SourceLanguage,
		TargetLanguage: cfg.Provider.TargetLanguage,
		Temperature:    cfg.Provider.Temperature,
		MaxTokens:      cfg.Provider.MaxTokens,
		Timeout:        cfg.Provider.Timeout,
		UnknownSpeaker: cfg.UnknownSpeaker,
		ContextLines:   3,
		ContextWindow:  2 * time.Minute,
		Cache: CacheConfig{
			Capacity: cfg.TranslationCacheSize,
			TTL:      cfg.TranslationTTL,
			NameCap:  cfg.NameBindingCap,
		},
		Breaker: resilience.ProviderConfig(),
	}
}

// Translator resolves classifications into translations.
type Translator struct {
	provider provider.Provider
	cache    *Cache
	breaker  *resilience.Breaker
	history  ContextSource
	metrics  *observe.Metrics
	cfg      Config
}

// New creates a Translator.
func New(p provider.Provider, lore config.Lore, cfg Config, metrics *observe.Metrics) *Translator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UnknownSpeaker == "" {
		cfg.UnknownSpeaker = "???"
	}
	if cfg.SourceLanguage == "" {
		cfg.SourceLanguage = "English"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "default"
	}
	if cfg.Breaker.Ignore == nil {
		// A stopped pipeline is not a provider failure.
		cfg.Breaker.Ignore = func(err error) bool { return errors.Is(err, context.Canceled) }
	}
	if metrics == nil {
		metrics = observe.Discard()
	}
	return &Translator{
		provider: p,
		cache:    NewCache(cfg.Cache, lore),
		breaker:  resilience.New("provider", cfg.Breaker),
		metrics:  metrics,
		cfg:      cfg,
	}
}

// WithHistory feeds recent lines from h into prompts.
func (t *Translator) WithHistory(h ContextSource) *Translator {
	t.history = h
	return t
}

// Cache exposes the translation cache.
func (t *Translator) Cache() *Cache { return t.cache }

// Breaker exposes the provider circuit breaker.
func (t *Translator) Breaker() *resilience.Breaker { return t.breaker }

// Reload swaps the lore and clears cached translations and name bindings.
func (t *Translator) Reload(lore config.Lore) {
	t.cache.Reload(lore)
}

// SourceText is the text a classification asks to translate.
func SourceText(c types.Classification) string {
	if c.Kind == types.KindChoice && len(c.Choices) > 0 {
		return strings.Join(c.Choices, "\n")
	}
	return strings.TrimSpace(c.Content)
}

// GetOrTranslate returns the cached translation for c or asks the provider.
// Calling it twice with the same classification calls the provider at most
// once. Failures are returned as provider faults and never cached.
func (t *Translator) GetOrTranslate(ctx context.Context, c types.Classification) (types.Translation, error) {
	src := SourceText(c)
	res := types.Translation{Source: src, Speaker: c.Speaker, Kind: c.Kind}

	if c.Masked {
		res.Text, res.Speaker = t.cfg.UnknownSpeaker, t.cfg.UnknownSpeaker
		return res, nil
	}
	if src == "" {
		return res, apperrors.New(apperrors.InvalidArgument, "nothing to translate")
	}

	if e, ok := t.cache.Get(c.Speaker, src); ok {
		t.metrics.RecordCacheLookup(ctx, "content", true)
		res.Text, res.Speaker, res.Cached = e.Text, e.Speaker, true
		return res, nil
	}
	t.metrics.RecordCacheLookup(ctx, "content", false)

	lore := t.cache.Lore()
	speaker := t.translateSpeaker(ctx, lore, c.Speaker)

	var (
		text string
		err  error
	)
	if c.Kind == types.KindChoice && len(c.Choices) > 0 {
		text, err = t.translateChoices(ctx, lore, c.Choices)
	} else {
		text, err = t.translateText(ctx, lore, c, src)
	}
	if err != nil {
		return res, err
	}

	t.cache.Put(c.Speaker, src, Entry{Text: text, Speaker: speaker})
	res.Text, res.Speaker = text, speaker
	return res, nil
}

func (t *Translator) translateSpeaker(ctx context.Context, lore config.Lore, name string) string {
	if name == "" || name == t.cfg.UnknownSpeaker {
		return name
	}
	if bound, ok := t.cache.Name(name); ok {
		t.metrics.RecordCacheLookup(ctx, "names", true)
		return bound
	}
	t.metrics.RecordCacheLookup(ctx, "names", false)

	for _, n := range lore.Names {
		if NormalizeName(n) == NormalizeName(name) {
			t.cache.BindName(name, name)
			return name
		}
	}

	out, err := t.call(ctx, t.namePrompt(name))
	if err != nil {
		trace.Logger(ctx).Warn("speaker name not translated", "speaker", name, "error", err)
		return name
	}
	out, _, _ = strings.Cut(out, "\n")
	out = strings.TrimSpace(out)
	t.cache.BindName(name, out)
	return out
}

func (t *Translator) translateText(ctx context.Context, lore config.Lore, c types.Classification, src string) (string, error) {
	in := promptInput{kind: c.Kind, speaker: c.Speaker, content: src}
	if t.history != nil && t.cfg.ContextLines > 0 {
		in.context = t.history.Context(t.cfg.ContextLines, t.cfg.ContextWindow)
	}

	out, err := t.call(ctx, t.buildPrompt(lore, in))
	if err != nil {
		return "", err
	}

	srcLen := len([]rune(src))
	if srcLen <= incompleteMinSource || float64(visibleLength(out)) >= incompleteRatio*float64(srcLen) {
		return out, nil
	}

	log := trace.Logger(ctx)
	log.Info("translation looks truncated, retrying", "source_len", srcLen, "translated_len", visibleLength(out))
	in.strict = true
	retry, err := t.call(ctx, t.buildPrompt(lore, in))
	if err != nil {
		log.Warn("completeness retry failed, keeping first translation", "error", err)
		return out, nil
	}
	if float64(visibleLength(retry)) >= retryGain*float64(visibleLength(out)) {
		return retry, nil
	}
	return out, nil
}

// translateChoices asks for all options in one request and falls back to
// one request per option when that request fails or its reply cannot be
// mapped back.
func (t *Translator) translateChoices(ctx context.Context, lore config.Lore, options []string) (string, error) {
	reply, err := t.call(ctx, t.choicePrompt(lore, options))
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return "", err
		}
		trace.Logger(ctx).Warn("batched choice request failed, translating options one by one", "options", len(options), "error", err)
	default:
		if parsed, ok := parseNumbered(reply, len(options)); ok {
			return strings.Join(parsed, "\n"), nil
		}
		trace.Logger(ctx).Debug("batched choice reply malformed, translating options one by one", "options", len(options))
	}

	out := make([]string, len(options))
	for i, o := range options {
		text, err := t.call(ctx, t.buildPrompt(lore, promptInput{kind: types.KindChoice, content: o}))
		if err != nil {
			return "", err
		}
		out[i] = text
	}
	return strings.Join(out, "\n"), nil
}

func (t *Translator) generation() provider.GenerationConfig {
	return provider.GenerationConfig{
		SystemPrompt: systemPrompt,
		Temperature:  t.cfg.Temperature,
		MaxTokens:    t.cfg.MaxTokens,
	}
}

// call runs one provider request under the breaker and the hard timeout.
func (t *Translator) call(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := resilience.Call(t.breaker, func() (string, error) {
		s, err := t.provider.Translate(ctx, prompt, t.generation())
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
				err = errors.Join(err, context.DeadlineExceeded)
			}
			return "", err
		}
		if s = strings.TrimSpace(s); s == "" {
			return "", apperrors.New(apperrors.ProviderIncomplete, "empty translation")
		}
		return s, nil
	})

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, resilience.ErrOpen):
		status = "open"
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
	default:
		status = "error"
	}
	t.metrics.RecordProviderRequest(context.WithoutCancel(ctx), t.cfg.ProviderName, status, time.Since(start))

	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, resilience.ErrOpen):
		return "", apperrors.Wrap(err, apperrors.ProviderFailed, "provider unavailable, circuit open")
	case apperrors.IsCode(err, apperrors.ProviderIncomplete):
		return "", err
	default:
		return "", apperrors.ProviderFault(err)
	}
}
