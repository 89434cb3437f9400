package capture

import (
	"context"
	"image"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/lorelens/internal/errors"
	"github.com/GriffinCanCode/lorelens/internal/observe"
	"github.com/GriffinCanCode/lorelens/pkg/types"
)

// Grabber captures a screen region.
type Grabber interface {
	Grab(ctx context.Context, r image.Rectangle) (image.Image, error)
}

// Recognizer extracts text from an image.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// Area is a region polled every tick.
type Area struct {
	ID   string
	Role types.AreaRole
	Rect image.Rectangle
}

// SourceConfig configures a Source.
type SourceConfig struct {
	Areas []Area
	Cache CacheConfig
	Pacer *Pacer
}

// Source polls every area each tick and emits one Frame per tick. OCR runs
// only for areas whose signature changed; unchanged areas are reported
// with their cached text so downstream stability counting still advances.
type Source struct {
	grab    Grabber
	ocr     Recognizer
	areas   []Area
	cache   *SignatureCache
	pacer   *Pacer
	metrics *observe.Metrics
	now     func() time.Time
	reset   chan struct{}
}

// NewSource creates a capture source.
func NewSource(grab Grabber, ocr Recognizer, cfg SourceConfig, metrics *observe.Metrics) *Source {
	pacer := cfg.Pacer
	if pacer == nil {
		pacer = NewPacer(250*time.Millisecond, 100, 1, nil)
	}
	return &Source{
		grab:    grab,
		ocr:     ocr,
		areas:   cfg.Areas,
		cache:   NewSignatureCache(cfg.Cache),
		pacer:   pacer,
		metrics: metrics,
		now:     time.Now,
		reset:   make(chan struct{}, 1),
	}
}

// Areas returns the polled areas.
func (s *Source) Areas() []Area { return s.areas }

// Capture grabs one area and returns its observation.
func (s *Source) Capture(ctx context.Context, area Area) (types.Observation, error) {
	obs := types.Observation{AreaID: area.ID, Role: area.Role}

	img, err := s.grab.Grab(ctx, area.Rect)
	if err != nil {
		return obs, apperrors.CaptureFault(area.ID, err)
	}
	obs.Timestamp = s.now()

	sig, err := Signature(img)
	if err != nil {
		slog.Debug("signature failed, forcing ocr", "area", area.ID, "error", err)
	}
	obs.Signature = sig

	if text, ok := s.cache.Lookup(area.ID, sig); ok {
		obs.Text = text
		obs.Cached = true
		s.metrics.RecordObservation(ctx, area.ID, true)
		return obs, nil
	}

	raw, err := s.ocr.Recognize(ctx, img)
	if err != nil {
		return obs, apperrors.CaptureFault(area.ID, err)
	}
	obs.Text = CleanText(raw)
	s.cache.Store(area.ID, sig, obs.Text)
	s.metrics.RecordObservation(ctx, area.ID, false)
	return obs, nil
}

// Tick captures every area. A failing area is logged and left out; it
// never blocks the others.
func (s *Source) Tick(ctx context.Context) types.Frame {
	frame := types.Frame{Timestamp: s.now()}
	for _, area := range s.areas {
		obs, err := s.Capture(ctx, area)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("capture fault", "area", area.ID, "error", err)
			s.metrics.RecordCaptureFault(ctx, area.ID)
			continue
		}
		frame.Observations = append(frame.Observations, obs)
	}
	return frame
}

// RequestReset asks the capture goroutine to drop its signature cache
// before the next tick.
func (s *Source) RequestReset() {
	select {
	case s.reset <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is done, sending each frame to out.
func (s *Source) Run(ctx context.Context, out chan<- types.Frame) error {
	if len(s.areas) == 0 {
		slog.Info("no capture areas enabled")
		<-ctx.Done()
		return nil
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.reset:
			s.cache.Clear()
			continue
		case <-timer.C:
		}

		frame := s.Tick(ctx)
		select {
		case out <- frame:
		case <-ctx.Done():
			return nil
		}
		timer.Reset(s.pacer.Interval())
	}
}

// CleanText trims each OCR line and drops blank ones.
func CleanText(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
