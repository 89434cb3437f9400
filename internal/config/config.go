// Package config loads runtime settings. Scalars come from the environment;
// screen areas, speaker overrides and the lore data (glossary, voices,
// protected names) come from YAML files because they do not fit in env vars.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/lorelens/internal/errors"
	"github.com/GriffinCanCode/lorelens/pkg/types"
)

// Env vars naming the optional YAML files.
const (
	EnvConfigFile = "LORELENS_CONFIG"
	EnvDataFile   = "LORELENS_DATA"
)

// Area is a screen rectangle to poll.
type Area struct {
	ID      string         `yaml:"id"`
	Role    types.AreaRole `yaml:"role"`
	X       int            `yaml:"x"`
	Y       int            `yaml:"y"`
	W       int            `yaml:"w"`
	H       int            `yaml:"h"`
	Enabled bool           `yaml:"enabled"`
}

// GlossaryTerm is a fixed translation for a lore keyword.
type GlossaryTerm struct {
	Term        string `yaml:"term"`
	Translation string `yaml:"translation"`
	Note        string `yaml:"note,omitempty"`
}

// Lore is the reloadable reference data fed into translation prompts.
type Lore struct {
	Glossary []GlossaryTerm    `yaml:"glossary"`
	Voices   map[string]string `yaml:"voices"` // speaker -> voice hint
	Names    []string          `yaml:"names"`  // proper names kept verbatim
}

// Provider selects and configures the translation backend.
type Provider struct {
	Name           string // openai, anthropic, gemini, ollama, mistral, groq, deepseek, mock
	Model          string
	APIKey         string
	BaseURL        string
	SourceLanguage string
	TargetLanguage string
	Temperature    float64
	MaxTokens      int
	Timeout        time.Duration
}

// Config holds every tunable of the pipeline.
type Config struct {
	HTTPAddr string
	OCRAddr  string
	LogLevel string

	// Capture
	Areas              []Area
	CaptureInterval    time.Duration
	CPULimitPercent    float64
	HighLoadFactor     float64 // interval multiplier while over the CPU limit
	SignatureTolerance int     // max Hamming distance treated as unchanged
	SignatureCacheSize int
	SignatureBaseTTL   time.Duration
	SignatureMaxTTL    time.Duration

	// Gate
	StabilityThreshold int

	// Bridge
	BridgeURL          string // empty disables the bridge
	BridgeBufferSize   int
	DebounceWindow     time.Duration
	RapidDebounce      time.Duration // widened window during rapid dialogue
	RapidDetectWindow  time.Duration // speaker change within this marks rapid dialogue
	RapidHold          time.Duration // how long the widened window lasts
	ReconnectRetries   int
	ReconnectBaseDelay time.Duration
	ReconnectSettle    time.Duration

	// Translation
	Provider             Provider
	TranslationCacheSize int
	TranslationTTL       time.Duration
	NameBindingCap       int
	HistorySize          int
	UnknownSpeaker       string
	SpeakerOverrides     []string // literal texts that always map to UnknownSpeaker
	ChoicePhrases        []string // extra choice prompts, matched as a whole line

	DataPath string
	Lore     Lore
}

// fileConfig is the YAML overlay read from LORELENS_CONFIG.
type fileConfig struct {
	Areas            []Area   `yaml:"areas"`
	UnknownSpeaker   string   `yaml:"unknown_speaker"`
	SpeakerOverrides []string `yaml:"speaker_overrides"`
	ChoicePhrases    []string `yaml:"choice_phrases"`
	Lore             *Lore    `yaml:"lore"`
}

// Load builds a Config from the environment, applies the optional YAML
// overlay and lore file, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8000"),
		OCRAddr:  getEnv("OCR_ADDR", "localhost:50051"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		CaptureInterval:    getEnvDuration("CAPTURE_INTERVAL", 250*time.Millisecond),
		CPULimitPercent:    getEnvFloat("CPU_LIMIT_PERCENT", 80),
		HighLoadFactor:     getEnvFloat("HIGH_LOAD_FACTOR", 3),
		SignatureTolerance: getEnvInt("SIGNATURE_TOLERANCE", 4),
		SignatureCacheSize: getEnvInt("SIGNATURE_CACHE_SIZE", 10),
		SignatureBaseTTL:   getEnvDuration("SIGNATURE_BASE_TTL", 5*time.Second),
		SignatureMaxTTL:    getEnvDuration("SIGNATURE_MAX_TTL", 30*time.Second),

		StabilityThreshold: getEnvInt("STABILITY_THRESHOLD", 2),

		BridgeURL:          getEnv("BRIDGE_URL", ""),
		BridgeBufferSize:   getEnvInt("BRIDGE_BUFFER_SIZE", 20),
		DebounceWindow:     getEnvDuration("DEBOUNCE_WINDOW", 300*time.Millisecond),
		RapidDebounce:      getEnvDuration("RAPID_DEBOUNCE_WINDOW", 500*time.Millisecond),
		RapidDetectWindow:  getEnvDuration("RAPID_DETECT_WINDOW", time.Second),
		RapidHold:          getEnvDuration("RAPID_HOLD", 2*time.Second),
		ReconnectRetries:   getEnvInt("RECONNECT_RETRIES", 5),
		ReconnectBaseDelay: getEnvDuration("RECONNECT_BASE_DELAY", time.Second),
		ReconnectSettle:    getEnvDuration("RECONNECT_SETTLE", 500*time.Millisecond),

		Provider: Provider{
			Name:           getEnv("PROVIDER", "openai"),
			Model:          getEnv("PROVIDER_MODEL", "gpt-4o-mini"),
			APIKey:         getEnv("PROVIDER_API_KEY", ""),
			BaseURL:        getEnv("PROVIDER_BASE_URL", ""),
			SourceLanguage: getEnv("SOURCE_LANGUAGE", "English"),
			TargetLanguage: getEnv("TARGET_LANGUAGE", "French"),
			Temperature:    getEnvFloat("PROVIDER_TEMPERATURE", 0.3),
			MaxTokens:      getEnvInt("PROVIDER_MAX_TOKENS", 1024),
			Timeout:        getEnvDuration("PROVIDER_TIMEOUT", 20*time.Second),
		},
		TranslationCacheSize: getEnvInt("TRANSLATION_CACHE_SIZE", 500),
		TranslationTTL:       getEnvDuration("TRANSLATION_TTL", time.Hour),
		NameBindingCap:       getEnvInt("NAME_BINDING_CAP", 200),
		HistorySize:          getEnvInt("HISTORY_SIZE", 50),
		UnknownSpeaker:       getEnv("UNKNOWN_SPEAKER", "???"),
		SpeakerOverrides:     getEnvList("SPEAKER_OVERRIDES", nil),
		ChoicePhrases:        getEnvList("CHOICE_PHRASES", nil),

		DataPath: getEnv(EnvDataFile, ""),
	}

	if path := getEnv(EnvConfigFile, ""); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if cfg.DataPath != "" {
		lore, err := LoadData(cfg.DataPath)
		if err != nil {
			return nil, err
		}
		cfg.Lore = *lore
	}

	if err := Validate(cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "invalid configuration")
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ConfigMissing, "open %s", path)
	}
	defer f.Close()

	var fc fileConfig
	if err := decodeStrict(f, &fc); err != nil {
		return apperrors.Wrapf(err, apperrors.ConfigInvalid, "parse %s", path)
	}
	if len(fc.Areas) > 0 {
		c.Areas = fc.Areas
	}
	if fc.UnknownSpeaker != "" {
		c.UnknownSpeaker = fc.UnknownSpeaker
	}
	c.SpeakerOverrides = append(c.SpeakerOverrides, fc.SpeakerOverrides...)
	c.ChoicePhrases = append(c.ChoicePhrases, fc.ChoicePhrases...)
	if fc.Lore != nil {
		c.Lore = *fc.Lore
	}
	return nil
}

// LoadData reads a lore file. It is also used by the reload command, so a
// bad file leaves the running data untouched.
func LoadData(path string) (*Lore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ConfigMissing, "open %s", path)
	}
	defer f.Close()

	var lore Lore
	if err := decodeStrict(f, &lore); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "parse %s", path)
	}
	return &lore, nil
}

func decodeStrict(r io.Reader, v any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// EnabledAreas returns the areas that should be polled.
func (c *Config) EnabledAreas() []Area {
	var out []Area
	for _, a := range c.Areas {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

// Validate returns every problem found in cfg, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.StabilityThreshold < 1 {
		errs = append(errs, fmt.Errorf("stability threshold %d must be at least 1", cfg.StabilityThreshold))
	}
	if cfg.CaptureInterval <= 0 {
		errs = append(errs, fmt.Errorf("capture interval %v must be positive", cfg.CaptureInterval))
	}
	if cfg.CPULimitPercent <= 0 || cfg.CPULimitPercent > 100 {
		errs = append(errs, fmt.Errorf("cpu limit %.0f%% is out of range (0, 100]", cfg.CPULimitPercent))
	}
	if cfg.SignatureTolerance < 0 {
		errs = append(errs, fmt.Errorf("signature tolerance %d must not be negative", cfg.SignatureTolerance))
	}
	if cfg.SignatureMaxTTL < cfg.SignatureBaseTTL {
		errs = append(errs, fmt.Errorf("signature max ttl %v is below base ttl %v", cfg.SignatureMaxTTL, cfg.SignatureBaseTTL))
	}
	if cfg.DebounceWindow <= 0 {
		errs = append(errs, fmt.Errorf("debounce window %v must be positive", cfg.DebounceWindow))
	}
	if cfg.RapidDebounce < cfg.DebounceWindow {
		errs = append(errs, fmt.Errorf("rapid debounce %v is below the normal window %v", cfg.RapidDebounce, cfg.DebounceWindow))
	}
	if cfg.ReconnectRetries < 1 {
		errs = append(errs, fmt.Errorf("reconnect retries %d must be at least 1", cfg.ReconnectRetries))
	}
	if cfg.Provider.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("provider timeout %v must be positive", cfg.Provider.Timeout))
	}
	if cfg.Provider.TargetLanguage == "" {
		errs = append(errs, errors.New("target language is required"))
	}

	seen := make(map[string]int, len(cfg.Areas))
	for i, a := range cfg.Areas {
		prefix := fmt.Sprintf("areas[%d]", i)
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := seen[a.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q duplicates areas[%d]", prefix, a.ID, prev))
		} else {
			seen[a.ID] = i
		}
		if a.Role != types.RoleName && a.Role != types.RoleBody {
			errs = append(errs, fmt.Errorf("%s.role %q must be name or body", prefix, a.Role))
		}
		if a.Enabled && (a.W <= 0 || a.H <= 0) {
			errs = append(errs, fmt.Errorf("%s has empty size %dx%d", prefix, a.W, a.H))
		}
	}

	if len(cfg.EnabledAreas()) == 0 && cfg.BridgeURL == "" {
		slog.Warn("no enabled capture areas and no bridge configured; nothing will be translated")
	}

	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
