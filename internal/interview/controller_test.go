package interview

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/masonivr/voiceclient/internal/audio"
	"github.com/masonivr/voiceclient/internal/transport"
)

type submitCall struct {
	sessionID string
	seq       int
	bytes     int
}

type fakeTransport struct {
	mu        sync.Mutex
	healthErr error
	resetErr  error
	startTurn transport.Turn
	startErr  error
	submitFns []func() (transport.Turn, error)
	submits   []submitCall
	fetchData []byte
	fetchErr  error
	fetched   []string
}

func (f *fakeTransport) Health(ctx context.Context) error { return f.healthErr }

func (f *fakeTransport) ResetSession(ctx context.Context, sessionID string) error {
	return f.resetErr
}

func (f *fakeTransport) StartSession(ctx context.Context, sessionID, language string) (transport.Turn, error) {
	return f.startTurn, f.startErr
}

func (f *fakeTransport) SubmitTurn(ctx context.Context, sessionID string, seq int, data []byte, contentType string) (transport.Turn, error) {
	f.mu.Lock()
	f.submits = append(f.submits, submitCall{sessionID: sessionID, seq: seq, bytes: len(data)})
	var fn func() (transport.Turn, error)
	if len(f.submitFns) > 0 {
		fn = f.submitFns[0]
		f.submitFns = f.submitFns[1:]
	}
	f.mu.Unlock()
	if fn == nil {
		return transport.Turn{}, errors.New("unexpected submit")
	}
	return fn()
}

func (f *fakeTransport) FetchAudio(ctx context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, ref)
	f.mu.Unlock()
	return f.fetchData, f.fetchErr
}

func (f *fakeTransport) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

type fakeRecorder struct {
	mu         sync.Mutex
	acquireErr error
	beginErr   error
	clip       audio.Clip
	endErr     error
	acquired   int
	released   int
}

func (f *fakeRecorder) Acquire(ctx context.Context) error {
	f.mu.Lock()
	f.acquired++
	f.mu.Unlock()
	return f.acquireErr
}

func (f *fakeRecorder) Begin() error { return f.beginErr }

func (f *fakeRecorder) End() (audio.Clip, error) { return f.clip, f.endErr }

func (f *fakeRecorder) Release() {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
}

func (f *fakeRecorder) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

type fakePlayer struct {
	mu      sync.Mutex
	playErr error
	block   chan struct{} // when non-nil, Play waits for it
	played  [][]byte
}

func (f *fakePlayer) Play(ctx context.Context, data []byte) error {
	f.mu.Lock()
	f.played = append(f.played, data)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.playErr
}

func (f *fakePlayer) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played)
}

type fixture struct {
	ctrl      *Controller
	transport *fakeTransport
	recorder  *fakeRecorder
	player    *fakePlayer
	notices   *[]string
	confirms  *int
}

func newFixture(t *testing.T, mutate func(*fakeTransport)) *fixture {
	t.Helper()
	ft := &fakeTransport{
		startTurn: transport.Turn{AssistantText: "What's your full name?"},
		fetchData: []byte("prompt-audio"),
	}
	if mutate != nil {
		mutate(ft)
	}
	fr := &fakeRecorder{clip: audio.Clip{Data: make([]byte, 5000), ContentType: "audio/wav"}}
	fp := &fakePlayer{}

	var notices []string
	confirms := 0
	ctrl, err := New(Config{
		Transport: ft,
		Recorder:  fr,
		Player:    fp,
		Retry:     RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
		Confirm: func(string) bool {
			confirms++
			return true
		},
		Hooks: Hooks{
			Notice: func(msg string) { notices = append(notices, msg) },
		},
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{ctrl: ctrl, transport: ft, recorder: fr, player: fp, notices: &notices, confirms: &confirms}
}

func (fx *fixture) startReady(t *testing.T) {
	t.Helper()
	if err := fx.ctrl.SelectLanguage("en"); err != nil {
		t.Fatalf("SelectLanguage: %v", err)
	}
	if err := fx.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fx.waitReady(t)
}

func (fx *fixture) waitReady(t *testing.T) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := fx.ctrl.WaitSettled(ctx)
	if err != nil {
		t.Fatalf("WaitSettled: %v (state %s)", err, st)
	}
	return st
}

func (fx *fixture) recordAndSubmit(t *testing.T) error {
	t.Helper()
	if err := fx.ctrl.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	return fx.ctrl.StopRecording(context.Background())
}

func TestSelectLanguage(t *testing.T) {
	fx := newFixture(t, nil)

	if err := fx.ctrl.SelectLanguage("fr"); err == nil {
		t.Error("SelectLanguage(fr) succeeded, want error")
	}
	if err := fx.ctrl.SelectLanguage("hi"); err != nil {
		t.Fatalf("SelectLanguage(hi): %v", err)
	}
	if got := fx.ctrl.State(); got != StateLanguageSelected {
		t.Errorf("state = %s, want %s", got, StateLanguageSelected)
	}
	// Irreversible for the session.
	if err := fx.ctrl.SelectLanguage("en"); err == nil {
		t.Error("second SelectLanguage succeeded, want error")
	}
}

func TestStartPlaysOpeningPromptThenReady(t *testing.T) {
	fx := newFixture(t, func(ft *fakeTransport) {
		ft.startTurn = transport.Turn{
			AssistantText: "Namaste...",
			AudioURL:      "/audio/a1.mp3",
		}
	})
	if err := fx.ctrl.SelectLanguage("hi"); err != nil {
		t.Fatalf("SelectLanguage: %v", err)
	}
	if err := fx.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if st := fx.waitReady(t); st != StateReadyToRecord {
		t.Errorf("settled state = %s, want %s", st, StateReadyToRecord)
	}
	if got := fx.ctrl.Prompt(); got != "Namaste..." {
		t.Errorf("Prompt = %q, want %q", got, "Namaste...")
	}
	if fx.player.playCount() != 1 {
		t.Errorf("playback count = %d, want 1", fx.player.playCount())
	}
	if fx.ctrl.SessionID() == "" {
		t.Error("SessionID is empty after Start")
	}
}

func TestStartWithoutAudioUnblocksImmediately(t *testing.T) {
	fx := newFixture(t, nil) // opening turn has no audio_url
	fx.startReady(t)

	if got := fx.ctrl.State(); got != StateReadyToRecord {
		t.Errorf("state = %s, want %s", got, StateReadyToRecord)
	}
	if fx.player.playCount() != 0 {
		t.Errorf("playback count = %d, want 0", fx.player.playCount())
	}
}

func TestStartFailureReturnsToPreSession(t *testing.T) {
	fx := newFixture(t, func(ft *fakeTransport) {
		ft.resetErr = &transport.Error{Op: "reset", StatusCode: 500}
	})
	if err := fx.ctrl.SelectLanguage("en"); err != nil {
		t.Fatalf("SelectLanguage: %v", err)
	}

	err := fx.ctrl.Start(context.Background())
	if !errors.Is(err, ErrStartFailed) {
		t.Fatalf("Start error = %v, want ErrStartFailed", err)
	}
	if got := fx.ctrl.State(); got != StateLanguageSelected {
		t.Errorf("state = %s, want %s", got, StateLanguageSelected)
	}
	if fx.ctrl.SessionID() != "" {
		t.Errorf("SessionID = %q, want empty (no partial state)", fx.ctrl.SessionID())
	}

	// The language choice survives; a second Start works.
	fx.transport.resetErr = nil
	if err := fx.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
}

func TestHealthFailureIsNonFatal(t *testing.T) {
	fx := newFixture(t, func(ft *fakeTransport) {
		ft.healthErr = &transport.Error{Op: "health", StatusCode: 503}
	})
	fx.startReady(t)

	if got := fx.ctrl.State(); got != StateReadyToRecord {
		t.Errorf("state = %s, want %s", got, StateReadyToRecord)
	}
}

func TestSubmitAdvancesToNextQuestion(t *testing.T) {
	fx := newFixture(t, func(ft *fakeTransport) {
		ft.submitFns = []func() (transport.Turn, error){
			func() (transport.Turn, error) {
				return transport.Turn{AssistantText: "What is your name?"}, nil
			},
		}
	})
	fx.startReady(t)

	if err := fx.recordAndSubmit(t); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if st := fx.waitReady(t); st != StateReadyToRecord {
		t.Errorf("settled state = %s, want %s", st, StateReadyToRecord)
	}
	if got := fx.ctrl.Prompt(); got != "What is your name?" {
		t.Errorf("Prompt = %q, want %q", got, "What is your name?")
	}
	if got := len(fx.ctrl.Fields()); got != 0 {
		t.Errorf("fields len = %d, want 0", got)
	}

	call := fx.transport.submits[0]
	if call.seq != 1 {
		t.Errorf("turn_seq = %d, want 1", call.seq)
	}
	if call.bytes != 5000 {
		t.Errorf("submitted %d bytes, want 5000", call.bytes)
	}
}

func TestTurnSequenceIncrementsPerSuccessfulExchange(t *testing.T) {
	nextTurn := func() (transport.Turn, error) {
		return transport.Turn{AssistantText: "next"}, nil
	}
	fx := newFixture(t, func(ft *fakeTransport) {
		ft.submitFns = []func() (transport.Turn, error){nextTurn, nextTurn}
	})
	fx.startReady(t)

	for i := 0; i < 2; i++ {
		if err := fx.recordAndSubmit(t); err != nil {
			t.Fatalf("turn %d: %v", i+1, err)
		}
		fx.waitReady(t)
	}
	if fx.transport.submits[0].seq != 1 || fx.transport.submits[1].seq != 2 {
		t.Errorf("sequences = %d,%d, want 1,2", fx.transport.submits[0].seq, fx.transport.submits[1].seq)
	}
}

func TestFinalTurnFreezesSession(t *testing.T) {
	fx := newFixture(t, func(ft *fakeTransport) {
		ft.submitFns = []func() (transport.Turn, error){
			func() (transport.Turn, error) {
				return transport.Turn{
					AssistantText: "Thanks, submitted!",
					Fields:        map[string]string{"name": "Ravi", "wage": "500"},
					Finished:      true,
				}, nil
			},
		}
	})
	fx.startReady(t)

	if err := fx.recordAndSubmit(t); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if got := fx.ctrl.State(); got != StateFinished {
		t.Errorf("state = %s, want %s", got, StateFinished)
	}
	if fx.ctrl.CanRecord() {
		t.Error("CanRecord = true after final turn")
	}
	if err := fx.ctrl.StartRecording(context.Background()); !errors.Is(err, ErrFinished) {
		t.Errorf("StartRecording error = %v, want ErrFinished", err)
	}

	fields := fx.ctrl.Fields()
	if len(fields) != 2 || fields["name"] != "Ravi" || fields["wage"] != "500" {
		t.Errorf("Fields = %v, want map[name:Ravi wage:500]", fields)
	}
}

func TestFieldsFoldAcrossTurnsAndNeverShrink(t *testing.T) {
	fx := newFixture(t, func(ft *fakeTransport) {
		ft.submitFns = []func() (transport.Turn, error){
			func() (transport.Turn, error) {
				return transport.Turn{AssistantText: "q2", Fields: map[string]string{"name": "Ravi"}}, nil
			},
			func() (transport.Turn, error) {
				return transport.Turn{AssistantText: "q3", Fields: map[string]string{"name": "Ravi Kumar", "age": "30"}}, nil
			},
			func() (transport.Turn, error) {
				// A turn reporting no fields must not clear anything.
				return transport.Turn{AssistantText: "q4"}, nil
			},
		}
	})
	fx.startReady(t)

	want := []map[string]string{
		{"name": "Ravi"},
		{"name": "Ravi Kumar", "age": "30"},
		{"name": "Ravi Kumar", "age": "30"},
	}
	for i, w := range want {
		if err := fx.recordAndSubmit(t); err != nil {
			t.Fatalf("turn %d: %v", i+1, err)
		}
		fx.waitReady(t)
		got := fx.ctrl.Fields()
		if len(got) != len(w) {
			t.Fatalf("after turn %d: fields = %v, want %v", i+1, got, w)
		}
		for k, v := range w {
			if got[k] != v {
				t.Errorf("after turn %d: fields[%q] = %q, want %q", i+1, k, got[k], v)
			}
		}
	}
}

func TestEmptyCaptureNeverReachesTransport(t *testing.T) {
	fx := newFixture(t, nil)
	fx.startReady(t)
	fx.recorder.endErr = audio.ErrEmptyCapture

	if err := fx.ctrl.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	err := fx.ctrl.StopRecording(context.Background())
	if !errors.Is(err, audio.ErrEmptyCapture) {
		t.Fatalf("StopRecording error = %v, want ErrEmptyCapture", err)
	}
	if got := fx.ctrl.State(); got != StateReadyToRecord {
		t.Errorf("state = %s, want %s", got, StateReadyToRecord)
	}
	if n := fx.transport.submitCount(); n != 0 {
		t.Errorf("transport submits = %d, want 0", n)
	}
	if fx.recorder.releaseCount() == 0 {
		t.Error("microphone was not released after empty capture")
	}
}

func TestSubmitFailureOffersBoundedRetry(t *testing.T) {
	failing := func() (transport.Turn, error) {
		return transport.Turn{}, &transport.Error{Op: "submit", StatusCode: 500, Detail: "file: invalid format"}
	}
	fx := newFixture(t, func(ft *fakeTransport) {
		ft.submitFns = []func() (transport.Turn, error){failing, failing, failing}
	})
	fx.startReady(t)

	// First failure: retry offered, state back to ReadyToRecord.
	if err := fx.recordAndSubmit(t); err == nil {
		t.Fatal("StopRecording succeeded, want error")
	}
	if got := fx.ctrl.State(); got != StateReadyToRecord {
		t.Errorf("state = %s, want %s", got, StateReadyToRecord)
	}
	if *fx.confirms != 1 {
		t.Errorf("confirms = %d, want 1", *fx.confirms)
	}
	found := false
	for _, n := range *fx.notices {
		if strings.Contains(n, "file: invalid format") {
			found = true
		}
	}
	if !found {
		t.Errorf("notices %v do not surface the engine detail", *fx.notices)
	}

	// Second failure: still below the ceiling.
	if err := fx.recordAndSubmit(t); err == nil {
		t.Fatal("second StopRecording succeeded, want error")
	}
	if *fx.confirms != 2 {
		t.Errorf("confirms = %d, want 2", *fx.confirms)
	}

	// Third failure exhausts the budget: no further offer, but the session
	// survives and recording is still possible.
	if err := fx.recordAndSubmit(t); err == nil {
		t.Fatal("third StopRecording succeeded, want error")
	}
	if *fx.confirms != 2 {
		t.Errorf("confirms = %d, want 2 (no offer at the ceiling)", *fx.confirms)
	}
	if !fx.ctrl.CanRecord() {
		t.Error("session not resumable after exhausted retries")
	}
}

func TestRetryCounterResetsOnSuccess(t *testing.T) {
	fail := func() (transport.Turn, error) {
		return transport.Turn{}, &transport.Error{Op: "submit", StatusCode: 502}
	}
	ok := func() (transport.Turn, error) {
		return transport.Turn{AssistantText: "next"}, nil
	}
	fx := newFixture(t, func(ft *fakeTransport) {
		ft.submitFns = []func() (transport.Turn, error){fail, fail, ok, fail}
	})
	fx.startReady(t)

	_ = fx.recordAndSubmit(t) // failure 1
	_ = fx.recordAndSubmit(t) // failure 2
	if err := fx.recordAndSubmit(t); err != nil {
		t.Fatalf("successful turn: %v", err)
	}
	fx.waitReady(t)

	// A failure on the next turn starts a fresh budget, so a retry is
	// offered even though three failures happened earlier in the session.
	_ = fx.recordAndSubmit(t)
	if *fx.confirms != 3 {
		t.Errorf("confirms = %d, want 3 (counter reset on success)", *fx.confirms)
	}
}

func TestPlaybackFailureStillUnblocksRecording(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeTransport, *fakePlayer)
	}{
		{"unresolvable resource", func(ft *fakeTransport, _ *fakePlayer) {
			ft.fetchErr = &transport.Error{Op: "fetch audio", StatusCode: 404}
		}},
		{"device rejects playback", func(_ *fakeTransport, fp *fakePlayer) {
			fp.playErr = &audio.DeviceError{Op: "play", Err: errors.New("output rejected")}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, func(ft *fakeTransport) {
				ft.startTurn = transport.Turn{AssistantText: "hello", AudioURL: "/audio/x.mp3"}
			})
			tt.mutate(fx.transport, fx.player)
			if err := fx.ctrl.SelectLanguage("en"); err != nil {
				t.Fatalf("SelectLanguage: %v", err)
			}
			if err := fx.ctrl.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if st := fx.waitReady(t); st != StateReadyToRecord {
				t.Errorf("settled state = %s, want %s", st, StateReadyToRecord)
			}
		})
	}
}

func TestRecordingDisabledWhileQuestionPlaying(t *testing.T) {
	block := make(chan struct{})
	fx := newFixture(t, func(ft *fakeTransport) {
		ft.startTurn = transport.Turn{AssistantText: "hello", AudioURL: "/audio/x.mp3"}
	})
	fx.player.block = block
	if err := fx.ctrl.SelectLanguage("en"); err != nil {
		t.Fatalf("SelectLanguage: %v", err)
	}
	if err := fx.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if fx.ctrl.CanRecord() {
		t.Error("CanRecord = true while question playing")
	}
	if err := fx.ctrl.StartRecording(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("StartRecording error = %v, want ErrNotReady", err)
	}

	close(block)
	if st := fx.waitReady(t); st != StateReadyToRecord {
		t.Fatalf("settled state = %s, want %s", st, StateReadyToRecord)
	}
	if !fx.ctrl.CanRecord() {
		t.Error("CanRecord = false after playback settled")
	}
}

func TestAcquireFailuresSurfaceTailoredMessages(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"permission denied", audio.ErrPermissionDenied, "Microphone permission denied"},
		{"device not found", audio.ErrDeviceNotFound, "No microphone found"},
		{"other device error", &audio.DeviceError{Op: "acquire", Err: errors.New("backend busted")}, "Microphone error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, nil)
			fx.startReady(t)
			fx.recorder.acquireErr = tt.err

			if err := fx.ctrl.StartRecording(context.Background()); !errors.Is(err, tt.err) {
				t.Fatalf("StartRecording error = %v, want %v", err, tt.err)
			}
			if got := fx.ctrl.State(); got != StateReadyToRecord {
				t.Errorf("state = %s, want %s", got, StateReadyToRecord)
			}
			if fx.recorder.releaseCount() == 0 {
				t.Error("recorder not released after acquire failure")
			}
			found := false
			for _, n := range *fx.notices {
				if strings.Contains(n, tt.wantMsg) {
					found = true
				}
			}
			if !found {
				t.Errorf("notices %v missing %q", *fx.notices, tt.wantMsg)
			}
		})
	}
}

func TestMicrophoneReleasedOnSuccessfulStop(t *testing.T) {
	fx := newFixture(t, func(ft *fakeTransport) {
		ft.submitFns = []func() (transport.Turn, error){
			func() (transport.Turn, error) { return transport.Turn{AssistantText: "next"}, nil },
		}
	})
	fx.startReady(t)

	if err := fx.recordAndSubmit(t); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if got := fx.recorder.releaseCount(); got != 1 {
		t.Errorf("release count = %d, want 1", got)
	}
}

func TestFinalTurnClosingAudioDoesNotReArmRecording(t *testing.T) {
	fx := newFixture(t, func(ft *fakeTransport) {
		ft.submitFns = []func() (transport.Turn, error){
			func() (transport.Turn, error) {
				return transport.Turn{AssistantText: "bye", AudioURL: "/audio/bye.mp3", Finished: true}, nil
			},
		}
	})
	fx.startReady(t)

	if err := fx.recordAndSubmit(t); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	// Give the closing playback time to settle; the state must stay Finished.
	deadline := time.Now().Add(time.Second)
	for fx.player.playCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if got := fx.ctrl.State(); got != StateFinished {
		t.Errorf("state = %s, want %s", got, StateFinished)
	}
	if fx.ctrl.CanRecord() {
		t.Error("CanRecord = true after final turn's closing audio")
	}
}

func TestTrailRecordsSessionLifecycle(t *testing.T) {
	fx := newFixture(t, func(ft *fakeTransport) {
		ft.submitFns = []func() (transport.Turn, error){
			func() (transport.Turn, error) {
				return transport.Turn{AssistantText: "done", Finished: true}, nil
			},
		}
	})
	fx.startReady(t)
	if err := fx.recordAndSubmit(t); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	seen := map[EventType]bool{}
	for _, ev := range fx.ctrl.Trail().Events() {
		seen[ev.Type] = true
	}
	for _, want := range []EventType{EventSessionStarted, EventPromptReceived, EventTurnSubmitted, EventSessionFinished} {
		if !seen[want] {
			t.Errorf("trail missing %s event", want)
		}
	}
}
