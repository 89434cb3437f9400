package orchestrator

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/lorelens/internal/config"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator/dialogue"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator/history"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator/translation"
	"github.com/GriffinCanCode/lorelens/internal/provider/mock"
	"github.com/GriffinCanCode/lorelens/pkg/types"
)

type published struct{ text, speaker string }

type fakeSink struct {
	mu       sync.Mutex
	ready    []published
	statuses []string
}

func (s *fakeSink) OnTranslationReady(text, speaker string) {
	s.mu.Lock()
	s.ready = append(s.ready, published{text, speaker})
	s.mu.Unlock()
}

func (s *fakeSink) OnStatusChanged(status string) {
	s.mu.Lock()
	s.statuses = append(s.statuses, status)
	s.mu.Unlock()
}

func (s *fakeSink) translations() []published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]published(nil), s.ready...)
}

func (s *fakeSink) hasStatus(prefix string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.statuses {
		if strings.HasPrefix(st, prefix) {
			return true
		}
	}
	return false
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type fakeBridge struct {
	mu         sync.Mutex
	state      types.ConnectionState
	gone       bool
	debouncing bool // Next holds messages back
	queue      []types.Message
	resets     int
}

func (b *fakeBridge) State() types.ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
func (b *fakeBridge) IsConnected() bool { return b.State() == types.Connected }
func (b *fakeBridge) Unavailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gone
}
func (b *fakeBridge) Next() (types.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.debouncing || len(b.queue) == 0 {
		return types.Message{}, false
	}
	m := b.queue[0]
	b.queue = b.queue[1:]
	return m, true
}
func (b *fakeBridge) ForceLatest() (types.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return types.Message{}, false
	}
	m := b.queue[len(b.queue)-1]
	b.queue = nil
	return m, true
}
func (b *fakeBridge) Reset() {
	b.mu.Lock()
	b.resets++
	b.queue = nil
	b.mu.Unlock()
}
func (b *fakeBridge) set(state types.ConnectionState, gone bool, msgs ...types.Message) {
	b.mu.Lock()
	b.state, b.gone = state, gone
	b.queue = append(b.queue, msgs...)
	b.mu.Unlock()
}

type harness struct {
	m        *Manager
	sink     *fakeSink
	provider *mock.Provider
	frames   chan types.Frame
	hist     *history.Store
	cancel   context.CancelFunc
	done     chan struct{}
}

func newHarness(t *testing.T, p *mock.Provider, bridge Bridge, load LoreLoader) *harness {
	t.Helper()
	if p == nil {
		p = &mock.Provider{}
	}
	h := &harness{
		sink:     &fakeSink{},
		provider: p,
		frames:   make(chan types.Frame),
		hist:     history.NewStore(10),
		done:     make(chan struct{}),
	}
	deps := Deps{
		Classifier: dialogue.New(dialogue.Config{UnknownSpeaker: "???"}),
		Translator: translation.New(p, config.Lore{}, translation.Config{Timeout: time.Second}, nil),
		Sink:       h.sink,
		Frames:     h.frames,
		History:    h.hist,
		LoadLore:   load,
		Bridge:     bridge,
	}
	h.m = New(deps, Config{StabilityThreshold: 2, PollInterval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		_ = h.m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) body(text string) {
	h.frames <- types.Frame{Observations: []types.Observation{{AreaID: "body", Role: types.RoleBody, Text: text}}}
}

func TestHiScenarioPublishesOnce(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	h.body("Hi")
	h.body("Hi")
	h.body("Hi")

	waitFor(t, func() bool { return len(h.sink.translations()) == 1 })
	time.Sleep(30 * time.Millisecond)

	got := h.sink.translations()
	if len(got) != 1 || got[0].text != "tr:Hi" {
		t.Errorf("published = %+v, want exactly one tr:Hi", got)
	}
	if n := h.provider.CallCount(); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}
	if h.hist.Len() != 1 {
		t.Errorf("history = %d entries, want 1", h.hist.Len())
	}
}

func TestNameAreaPrefixesBody(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	frame := types.Frame{Observations: []types.Observation{
		{AreaID: "name", Role: types.RoleName, Text: "Alisaie"},
		{AreaID: "body", Role: types.RoleBody, Text: "We have no time to lose."},
	}}
	h.frames <- frame
	h.frames <- frame

	waitFor(t, func() bool { return len(h.sink.translations()) == 1 })
	got := h.sink.translations()[0]
	if got.text != "tr:We have no time to lose." || got.speaker != "tr:Alisaie" {
		t.Errorf("published = %+v", got)
	}
}

func TestForceReleasesUnstableText(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.body("Hello")

	if err := h.m.Force(context.Background()); err != nil {
		t.Fatalf("Force: %v", err)
	}
	waitFor(t, func() bool { return len(h.sink.translations()) == 1 })
	if got := h.sink.translations()[0].text; got != "tr:Hello" {
		t.Errorf("published %q", got)
	}

	// Forcing again republishes even though the text was already shown.
	if err := h.m.Force(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(h.sink.translations()) == 2 })
}

func TestLatestPendingWins(t *testing.T) {
	release := make(chan struct{})
	p := &mock.Provider{Respond: func(prompt string) (string, error) {
		line := mock.LastLine(prompt)
		if line == "A" {
			<-release
		}
		return "tr:" + line, nil
	}}
	h := newHarness(t, p, nil, nil)

	h.body("A")
	h.body("A") // released, blocks in the provider
	waitFor(t, func() bool { return h.provider.CallCount() == 1 })
	h.body("B")
	h.body("B") // pending
	h.body("C")
	h.body("C") // replaces B
	close(release)

	waitFor(t, func() bool { return len(h.sink.translations()) == 2 })
	time.Sleep(30 * time.Millisecond)
	got := h.sink.translations()
	if len(got) != 2 || got[0].text != "tr:A" || got[1].text != "tr:C" {
		t.Errorf("published = %+v, want tr:A then tr:C", got)
	}
}

func TestResultsDiscardedAfterStop(t *testing.T) {
	p := &mock.Provider{Delay: 50 * time.Millisecond}
	h := newHarness(t, p, nil, nil)

	h.body("Late line")
	h.body("Late line")
	waitFor(t, func() bool { return h.provider.CallCount() == 1 })
	h.cancel()
	<-h.done

	time.Sleep(100 * time.Millisecond)
	if got := h.sink.translations(); len(got) != 0 {
		t.Errorf("published after stop: %+v", got)
	}
	if err := h.m.Force(context.Background()); !stderrors.Is(err, ErrStopped) {
		t.Errorf("Force after stop = %v, want ErrStopped", err)
	}
}

func TestProviderFailureKeepsPreviousTranslation(t *testing.T) {
	p := &mock.Provider{}
	h := newHarness(t, p, nil, nil)

	h.body("First")
	h.body("First")
	waitFor(t, func() bool { return len(h.sink.translations()) == 1 })

	p.SetErr(stderrors.New("503"))
	h.body("Second")
	h.body("Second")
	waitFor(t, func() bool { return h.sink.hasStatus(StatusTranslationFailed) })

	if got := h.sink.translations(); len(got) != 1 {
		t.Errorf("published = %+v", got)
	}
	st := h.m.Status()
	if st.Last == nil || st.Last.Text != "tr:First" {
		t.Errorf("status last = %+v", st.Last)
	}
	if st.LastError == "" {
		t.Error("status should carry the error")
	}
}

func TestBridgeHasPriority(t *testing.T) {
	b := &fakeBridge{}
	b.set(types.Connected, false, types.Message{Speaker: "Estinien", Body: "Took you long enough."})
	h := newHarness(t, nil, b, nil)

	waitFor(t, func() bool { return len(h.sink.translations()) == 1 })
	got := h.sink.translations()[0]
	if got.text != "tr:Took you long enough." || got.speaker != "tr:Estinien" {
		t.Errorf("published = %+v", got)
	}
	if !h.sink.hasStatus(StatusBridgeConnected) {
		t.Error("missing connected status")
	}

	// Capture frames are ignored while the bridge is connected.
	h.body("Screen text")
	h.body("Screen text")
	time.Sleep(30 * time.Millisecond)
	if n := len(h.sink.translations()); n != 1 {
		t.Errorf("capture frames were translated while bridge connected (%d)", n)
	}
}

func TestBridgeUnavailableFallsBackToCapture(t *testing.T) {
	b := &fakeBridge{}
	b.set(types.Disconnected, true)
	h := newHarness(t, nil, b, nil)

	waitFor(t, func() bool { return h.sink.hasStatus(StatusBridgeUnavailable) })
	h.body("Screen text")
	h.body("Screen text")
	waitFor(t, func() bool { return len(h.sink.translations()) == 1 })
	if st := h.m.Status(); !st.BridgeUnavailable {
		t.Errorf("status = %+v", st)
	}
}

func TestForcePrefersBridge(t *testing.T) {
	b := &fakeBridge{debouncing: true}
	b.set(types.Connected, false, types.Message{Body: "one"}, types.Message{Body: "two"})
	h := newHarness(t, nil, b, nil)
	waitFor(t, func() bool { return h.sink.hasStatus(StatusBridgeConnected) })

	if err := h.m.Force(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(h.sink.translations()) == 1 })
	if got := h.sink.translations()[0].text; got != "tr:two" {
		t.Errorf("published %q, want the newest message", got)
	}
}

func TestReload(t *testing.T) {
	loads := 0
	load := func() (config.Lore, error) {
		loads++
		return config.Lore{Names: []string{"Alisaie"}}, nil
	}
	b := &fakeBridge{}
	h := newHarness(t, nil, b, load)

	h.body("Hello")
	h.body("Hello")
	waitFor(t, func() bool { return len(h.sink.translations()) == 1 })
	epoch := h.m.Status().Gate.Epoch

	if err := h.m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if loads != 1 {
		t.Errorf("loads = %d", loads)
	}
	waitFor(t, func() bool { return h.m.Status().Gate.Epoch == epoch+1 })
	if b.resets != 1 {
		t.Errorf("bridge resets = %d", b.resets)
	}

	// After reload the same text is translated again, not served from cache.
	h.body("Hello")
	h.body("Hello")
	waitFor(t, func() bool { return len(h.sink.translations()) == 2 })
	if n := h.provider.CallCount(); n != 2 {
		t.Errorf("provider calls = %d, want 2", n)
	}
}

func TestReloadFailure(t *testing.T) {
	h := newHarness(t, nil, nil, func() (config.Lore, error) { return config.Lore{}, stderrors.New("bad yaml") })
	if err := h.m.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	waitFor(t, func() bool { return h.sink.hasStatus(StatusReloadFailed) })
}

func TestMergeFrame(t *testing.T) {
	got := MergeFrame(types.Frame{Observations: []types.Observation{
		{AreaID: "body", Role: types.RoleBody, Text: "Line one"},
		{AreaID: "name", Role: types.RoleName, Text: "Y'shtola"},
		{AreaID: "empty", Role: types.RoleBody, Text: ""},
	}})
	if got.Text != "Y'shtola: Line one" || got.Name != "Y'shtola" || got.Body != "Line one" {
		t.Errorf("MergeFrame = %+v", got)
	}
	if len(got.Areas) != 2 || got.Source != types.SourceCapture {
		t.Errorf("areas = %v, source = %s", got.Areas, got.Source)
	}
}
