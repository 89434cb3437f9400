package orchestrator

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/lorelens/internal/observe"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator/stability"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator/translation"
	"github.com/GriffinCanCode/lorelens/internal/syncx"
	"github.com/GriffinCanCode/lorelens/internal/trace"
	"github.com/GriffinCanCode/lorelens/pkg/types"
)

type controlKind int

const (
	controlForce controlKind = iota
	controlReload
)

type controlRequest struct {
	kind  controlKind
	reply chan error
}

// job is one candidate on its way to the provider.
type job struct {
	ctx   context.Context
	span  *trace.Span
	cand  types.StableCandidate
	class types.Classification
}

type result struct {
	job *job
	tr  types.Translation
	err error
}

// Manager owns the pipeline loop. All pipeline state below the channels is
// touched only by the goroutine running Run.
type Manager struct {
	deps    Deps
	cfg     Config
	metrics *observe.Metrics

	gate    *stability.Gate
	control chan controlRequest
	results chan result
	done    chan struct{}
	stopped atomic.Bool
	status  *syncx.Guard[Status]

	// loop-owned
	inflight    bool
	pending     *job
	prevSpeaker string
	last        *types.Translation
	lastKey     string // speaker and source text of last
	bridgeState types.ConnectionState
	bridgeGone  bool
}

// New creates a pipeline manager.
func New(deps Deps, cfg Config, metrics *observe.Metrics) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.TranslationTimeout <= 0 {
		cfg.TranslationTimeout = DefaultTranslationTimeout
	}
	if cfg.StabilityThreshold <= 0 {
		cfg.StabilityThreshold = stability.DefaultThreshold
	}
	if metrics == nil {
		metrics = observe.Discard()
	}
	return &Manager{
		deps:        deps,
		cfg:         cfg,
		metrics:     metrics,
		gate:        stability.New(cfg.StabilityThreshold),
		control:     make(chan controlRequest),
		results:     make(chan result, 1), // one in flight, so sends never block
		done:        make(chan struct{}),
		status:      syncx.NewGuard(Status{Bridge: types.Disconnected.String()}),
		bridgeState: types.Disconnected,
	}
}

// Run drives the pipeline until ctx is done. Translations still in flight
// at that point finish in the background and their results are dropped.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.stopped.Store(true)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	log := trace.Logger(ctx)
	log.Info("pipeline started", "stability_threshold", m.cfg.StabilityThreshold, "bridge", m.deps.Bridge != nil)

	for {
		select {
		case <-ctx.Done():
			log.Info("pipeline stopped")
			return nil

		case frame, ok := <-m.deps.Frames:
			if !ok {
				m.deps.Frames = nil
				continue
			}
			m.handleFrame(ctx, frame)

		case req := <-m.control:
			req.reply <- m.handleControl(ctx, req.kind)

		case res := <-m.results:
			m.handleResult(ctx, res)

		case <-ticker.C:
			m.pollBridge(ctx)
		}
		m.publishStatus()
	}
}

// Force releases the latest candidate immediately, bypassing the gate and
// the bridge debounce.
func (m *Manager) Force(ctx context.Context) error {
	return m.send(ctx, controlForce)
}

// Reload re-reads game data, clears translation caches and starts a new
// gate epoch.
func (m *Manager) Reload(ctx context.Context) error {
	return m.send(ctx, controlReload)
}

func (m *Manager) send(ctx context.Context, kind controlKind) error {
	req := controlRequest{kind: kind, reply: make(chan error, 1)}
	select {
	case m.control <- req:
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the pipeline state.
func (m *Manager) Status() Status {
	return m.status.Get()
}

func (m *Manager) bridgeActive() bool {
	return m.deps.Bridge != nil && m.deps.Bridge.IsConnected()
}

func (m *Manager) handleFrame(ctx context.Context, frame types.Frame) {
	// The bridge has priority while connected; the gate is skipped.
	if m.bridgeActive() {
		return
	}
	cand, ok := m.gate.Observe(MergeFrame(frame))
	if !ok {
		return
	}
	m.submit(ctx, cand, false)
}

func (m *Manager) pollBridge(ctx context.Context) {
	b := m.deps.Bridge
	if b == nil {
		return
	}
	state, gone := b.State(), b.Unavailable()
	if state != m.bridgeState || gone != m.bridgeGone {
		m.bridgeState, m.bridgeGone = state, gone
		m.deps.Sink.OnStatusChanged(bridgeStatus(state, gone))
	}
	if state != types.Connected {
		return
	}
	if msg, ok := b.Next(); ok {
		m.submit(ctx, FromMessage(msg, types.SourceBridge), false)
	}
}

func bridgeStatus(state types.ConnectionState, gone bool) string {
	switch {
	case gone:
		return StatusBridgeUnavailable
	case state == types.Connected:
		return StatusBridgeConnected
	case state == types.Connecting:
		return StatusBridgeConnecting
	default:
		return StatusBridgeDisconnected
	}
}

func (m *Manager) handleControl(ctx context.Context, kind controlKind) error {
	switch kind {
	case controlForce:
		if m.bridgeActive() {
			if msg, ok := m.deps.Bridge.ForceLatest(); ok {
				m.submit(ctx, FromMessage(msg, types.SourceManual), true)
				return nil
			}
		}
		if cand, ok := m.gate.Force(); ok {
			m.submit(ctx, cand, true)
		}
		return nil

	case controlReload:
		if m.deps.LoadLore != nil {
			lore, err := m.deps.LoadLore()
			if err != nil {
				trace.Logger(ctx).Error("reload failed", "error", err)
				m.deps.Sink.OnStatusChanged(StatusReloadFailed)
				return err
			}
			m.deps.Translator.Reload(lore)
		}
		m.gate.Reset()
		if m.deps.Bridge != nil {
			m.deps.Bridge.Reset()
		}
		if m.deps.Capture != nil {
			m.deps.Capture.RequestReset()
		}
		m.pending = nil
		m.last = nil
		m.lastKey = ""
		m.prevSpeaker = ""
		trace.Logger(ctx).Info("game data reloaded")
		m.deps.Sink.OnStatusChanged(StatusReloaded)
		return nil
	}
	return nil
}

// submit classifies a stable candidate and queues it for translation. At
// most one translation runs; a newer candidate replaces a waiting one.
func (m *Manager) submit(ctx context.Context, cand types.StableCandidate, forced bool) {
	class := m.deps.Classifier.ClassifyCandidate(cand, m.prevSpeaker)
	switch class.Kind {
	case types.KindNormal, types.KindSpeakerInText:
		m.prevSpeaker = class.Speaker
	}

	if !forced && m.last != nil && m.lastKey == candidateKey(class) {
		trace.Logger(ctx).Debug("candidate already translated", "text", cand.Text)
		return
	}

	jctx, span := trace.StartSpan(ctx, "translate_candidate")
	span.SetAttr("source", string(cand.Source))
	span.SetAttr("kind", string(class.Kind))
	m.metrics.RecordCandidate(jctx, string(cand.Source))
	trace.Logger(jctx).Info("stable candidate", "source", cand.Source, "kind", class.Kind, "speaker", class.Speaker)

	j := &job{ctx: jctx, span: span, cand: cand, class: class}
	if m.inflight {
		if m.pending != nil {
			m.pending.span.SetAttr("superseded", true)
			m.pending.span.End()
		}
		m.pending = j
		return
	}
	m.start(j)
}

// start runs the translation detached from the loop's cancellation so a
// stop never aborts a provider call half way.
func (m *Manager) start(j *job) {
	m.inflight = true
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), m.cfg.TranslationTimeout)
		defer cancel()
		tr, err := m.deps.Translator.GetOrTranslate(ctx, j.class)
		m.results <- result{job: j, tr: tr, err: err}
	}()
}

func (m *Manager) handleResult(ctx context.Context, res result) {
	m.inflight = false
	defer res.job.span.End()
	log := trace.Logger(res.job.ctx)

	if ctx.Err() != nil || m.stopped.Load() {
		return
	}

	if res.err != nil {
		res.job.span.SetAttr("error", res.err.Error())
		log.Warn("translation failed", "error", res.err)
		m.status.Write(func(s *Status) { s.LastError = res.err.Error() })
		m.deps.Sink.OnStatusChanged(StatusTranslationFailed)
	} else {
		tr := res.tr
		tr.CandidateOf = res.job.cand.Source
		m.last = &tr
		m.lastKey = candidateKey(res.job.class)
		if m.deps.History != nil {
			m.deps.History.Add(tr)
		}
		res.job.span.SetAttr("cached", tr.Cached)
		log.Info("translation ready", "speaker", tr.Speaker, "cached", tr.Cached)
		m.status.Write(func(s *Status) { s.LastError = "" })
		m.deps.Sink.OnTranslationReady(tr.Text, tr.Speaker)
	}

	if next := m.pending; next != nil {
		m.pending = nil
		m.start(next)
	}
}

func (m *Manager) publishStatus() {
	gate := m.gate.State()
	inflight, pending := m.inflight, m.pending != nil
	var last *LastTranslation
	if m.last != nil {
		last = &LastTranslation{Source: m.last.Source, Text: m.last.Text, Speaker: m.last.Speaker, Kind: m.last.Kind}
	}
	bridge, gone := m.bridgeState.String(), m.bridgeGone
	if m.deps.Bridge == nil {
		bridge = "disabled"
	}
	m.status.Write(func(s *Status) {
		s.Bridge, s.BridgeUnavailable = bridge, gone
		s.Gate = gate
		s.InFlight, s.Pending = inflight, pending
		s.Last = last
	})
}

// MergeFrame joins a frame's areas into one candidate. Name text is
// prefixed to the body so the classifier can split it again.
func MergeFrame(frame types.Frame) types.StableCandidate {
	var names, bodies, areas []string
	for _, o := range frame.Observations {
		if o.Text == "" {
			continue
		}
		areas = append(areas, o.AreaID)
		if o.Role == types.RoleName {
			names = append(names, o.Text)
		} else {
			bodies = append(bodies, o.Text)
		}
	}
	cand := types.StableCandidate{
		Name:   strings.Join(names, " "),
		Body:   strings.Join(bodies, "\n"),
		Source: types.SourceCapture,
		Areas:  areas,
	}
	cand.Text = joinSpeaker(cand.Name, cand.Body)
	return cand
}

// FromMessage turns a bridge message into a candidate.
func FromMessage(msg types.Message, src types.Source) types.StableCandidate {
	return types.StableCandidate{
		Text:   joinSpeaker(msg.Speaker, msg.Body),
		Name:   msg.Speaker,
		Body:   msg.Body,
		Source: src,
	}
}

func candidateKey(c types.Classification) string {
	return c.Speaker + "\x00" + translation.SourceText(c)
}

func joinSpeaker(name, body string) string {
	switch {
	case name == "":
		return body
	case body == "":
		return name
	default:
		return name + ": " + body
	}
}
