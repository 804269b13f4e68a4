// Package interview implements the turn-taking interview controller: the
// state machine that sequences microphone capture, network exchange and
// prompt playback into a strictly alternating conversation with the remote
// dialogue engine.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/masonivr/voiceclient/internal/audio"
	"github.com/masonivr/voiceclient/internal/transport"
)

// Languages the engine can interview in.
var Languages = []string{"en", "hi", "ta"}

var (
	// ErrStartFailed means the session could not be started; the machine is
	// back in the pre-session state and nothing was retained.
	ErrStartFailed = errors.New("interview could not be started")

	// ErrNotReady means a start-recording action arrived while recording is
	// not permitted (question playing, submission in flight, or finished).
	ErrNotReady = errors.New("recording is not available right now")

	// ErrFinished means the engine already reported the interview complete.
	ErrFinished = errors.New("interview is finished")
)

// Transport is the slice of the engine client the controller needs.
type Transport interface {
	Health(ctx context.Context) error
	ResetSession(ctx context.Context, sessionID string) error
	StartSession(ctx context.Context, sessionID, language string) (transport.Turn, error)
	SubmitTurn(ctx context.Context, sessionID string, seq int, data []byte, contentType string) (transport.Turn, error)
	FetchAudio(ctx context.Context, ref string) ([]byte, error)
}

// ConfirmFunc asks the user to confirm a retry. No retry happens silently.
type ConfirmFunc func(prompt string) bool

// Hooks are optional UI callbacks. They may be invoked while the controller
// holds its lock and must not call back into the controller.
type Hooks struct {
	StateChanged  func(State)
	Prompt        func(text string)
	FieldsUpdated func(fields map[string]string)
	Transcript    func(text string) // engine's transcription, diagnostic only
	Notice        func(msg string)  // user-facing error/notice messages
}

// Config assembles a Controller.
type Config struct {
	Transport Transport
	Recorder  audio.Recorder
	Player    audio.Player
	Retry     RetryPolicy // zero value means DefaultRetryPolicy
	Confirm   ConfirmFunc
	Hooks     Hooks
	Logger    *log.Logger
	Trail     *Trail // optional
}

// Controller owns session identity and drives the capture and playback
// devices in the correct order relative to transport calls. At most one
// capture, one playback and one network exchange are ever in flight, and
// never capture and exchange for the same turn.
type Controller struct {
	mu   sync.Mutex
	cond *sync.Cond

	state     State
	language  string
	sessionID string
	seq       int // turn sequence token, 1-based, sent with every submission
	attempts  int // failed submissions on the current turn
	finished  bool
	prompt    string
	fields    *FieldStore

	transport Transport
	recorder  audio.Recorder
	player    audio.Player
	retry     RetryPolicy
	confirm   ConfirmFunc
	hooks     Hooks
	logger    *log.Logger
	trail     *Trail
}

// New creates a Controller in StateIdle.
func New(cfg Config) (*Controller, error) {
	if cfg.Transport == nil {
		return nil, errors.New("interview: Transport is required")
	}
	if cfg.Recorder == nil {
		return nil, errors.New("interview: Recorder is required")
	}
	if cfg.Player == nil {
		return nil, errors.New("interview: Player is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Trail == nil {
		cfg.Trail = NewTrail(0)
	}

	c := &Controller{
		state:     StateIdle,
		fields:    NewFieldStore(),
		transport: cfg.Transport,
		recorder:  cfg.Recorder,
		player:    cfg.Player,
		retry:     cfg.Retry,
		confirm:   cfg.Confirm,
		hooks:     cfg.Hooks,
		logger:    cfg.Logger,
		trail:     cfg.Trail,
	}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

// SelectLanguage fixes the interview language. Fires once; the choice is
// irreversible for the session.
func (c *Controller) SelectLanguage(lang string) error {
	valid := false
	for _, l := range Languages {
		if l == lang {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unsupported language %q", lang)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("language already selected (state %s)", c.state)
	}
	c.language = lang
	c.setStateLocked(StateLanguageSelected)
	return nil
}

// Start creates a fresh session: generates the session ID, probes the engine
// (best effort), resets engine-side state and retrieves the opening turn.
// On failure the machine returns to the pre-session state with no session
// retained; the language choice survives.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateLanguageSelected {
		c.mu.Unlock()
		return fmt.Errorf("cannot start from state %s", c.state)
	}
	language := c.language
	c.setStateLocked(StateStarting)
	c.mu.Unlock()

	sessionID := uuid.NewString()

	// Liveness probe. Failure is logged, never fatal: the endpoint may not
	// even exist on older engines.
	if err := c.transport.Health(ctx); err != nil {
		c.logger.Printf("engine health check failed (continuing): %v", err)
	}

	if err := c.transport.ResetSession(ctx, sessionID); err != nil {
		return c.failStart(err)
	}
	turn, err := c.transport.StartSession(ctx, sessionID, language)
	if err != nil {
		return c.failStart(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.seq = 1
	c.attempts = 0
	c.finished = false
	c.prompt = ""
	c.fields = NewFieldStore()
	c.trail.Log(EventSessionStarted, map[string]any{"session_id": sessionID, "language": language})
	c.applyTurnLocked(turn)
	return nil
}

func (c *Controller) failStart(err error) error {
	c.mu.Lock()
	c.setStateLocked(StateLanguageSelected)
	c.mu.Unlock()

	c.trail.Log(EventError, map[string]any{"op": "start", "error": err.Error()})
	c.notice(fmt.Sprintf("Failed to start: %v. Please check your connection and try again.", err))
	return fmt.Errorf("%w: %v", ErrStartFailed, err)
}

// StartRecording arms the microphone. Only permitted from StateReadyToRecord
// while the interview is not finished; the single state tag is the mutual
// exclusion between capture, playback and exchange.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return ErrFinished
	}
	if c.state != StateReadyToRecord {
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotReady, c.state)
	}
	c.setStateLocked(StateRecording)
	c.mu.Unlock()

	if err := c.recorder.Acquire(ctx); err != nil {
		c.recorder.Release()
		c.abortRecording("acquire", err)
		return err
	}
	if err := c.recorder.Begin(); err != nil {
		c.recorder.Release()
		c.abortRecording("begin", err)
		return err
	}
	return nil
}

// StopRecording ends capture and submits the answer. The microphone is
// released on every path. An empty capture never reaches the transport and
// returns the machine to StateReadyToRecord.
func (c *Controller) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return fmt.Errorf("not recording (state %s)", c.state)
	}
	sessionID := c.sessionID
	seq := c.seq
	c.mu.Unlock()

	clip, err := c.recorder.End()
	c.recorder.Release()
	if err != nil {
		c.abortRecording("end", err)
		return err
	}

	c.mu.Lock()
	c.setStateLocked(StateSubmitting)
	c.mu.Unlock()

	turn, err := c.transport.SubmitTurn(ctx, sessionID, seq, clip.Data, clip.ContentType)
	c.trail.Log(EventTurnSubmitted, map[string]any{"seq": seq, "bytes": len(clip.Data), "ok": err == nil})
	if err != nil {
		return c.submitFailed(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = 0
	c.seq++
	c.applyTurnLocked(turn)
	return nil
}

// submitFailed counts the failure against the current turn's retry budget
// and, below the ceiling, offers a user-confirmed retry after a short delay.
// The session survives either way; the user may record a fresh answer.
func (c *Controller) submitFailed(err error) error {
	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	c.setStateLocked(StateReadyToRecord)
	c.mu.Unlock()

	c.trail.Log(EventError, map[string]any{"op": "submit", "attempt": attempts, "error": err.Error()})
	c.notice(fmt.Sprintf("Error: %v", userDetail(err)))

	if !c.retry.Exhausted(attempts) && c.confirm != nil {
		time.Sleep(c.retry.Delay)
		accepted := c.confirm("Error processing audio. Retry?")
		c.trail.Log(EventRetryOffered, map[string]any{"attempt": attempts, "accepted": accepted})
	}
	return err
}

// abortRecording surfaces a capture failure and returns to the last safe
// interactive state.
func (c *Controller) abortRecording(op string, err error) {
	c.mu.Lock()
	c.setStateLocked(StateReadyToRecord)
	c.mu.Unlock()

	c.trail.Log(EventError, map[string]any{"op": op, "error": err.Error()})
	c.notice(captureMessage(err))
}

// applyTurnLocked installs a received turn: prompt, field merge, completion
// handling and playback scheduling. Caller holds c.mu.
func (c *Controller) applyTurnLocked(turn transport.Turn) {
	c.prompt = turn.AssistantText
	c.trail.Log(EventPromptReceived, map[string]any{"final": turn.Finished})
	if c.hooks.Prompt != nil {
		c.hooks.Prompt(turn.AssistantText)
	}
	if turn.UserText != "" && c.hooks.Transcript != nil {
		c.hooks.Transcript(turn.UserText)
	}
	if len(turn.Fields) > 0 {
		c.fields.Merge(turn.Fields)
		if c.hooks.FieldsUpdated != nil {
			c.hooks.FieldsUpdated(c.fields.Snapshot())
		}
	}

	if turn.Finished {
		c.finished = true
		c.fields.Freeze()
		c.setStateLocked(StateFinished)
		c.trail.Log(EventSessionFinished, nil)
		// The closing prompt still plays; its settlement changes nothing.
		if turn.AudioURL != "" {
			go c.playAndSettle(turn.AudioURL)
		}
		return
	}

	c.setStateLocked(StateQuestionPlaying)
	if turn.AudioURL == "" {
		// No audio to wait for: recording unblocks immediately.
		c.settleLocked("no audio")
		return
	}
	go c.playAndSettle(turn.AudioURL)
}

// playAndSettle fetches and plays one prompt resource, then unblocks
// recording. Completed and Failed both settle: a broken prompt audio must
// never stall the interview, the prompt text is still on screen.
func (c *Controller) playAndSettle(ref string) {
	outcome := "completed"
	data, err := c.transport.FetchAudio(context.Background(), ref)
	if err != nil {
		c.logger.Printf("prompt audio fetch failed: %v", err)
		outcome = "fetch failed"
	} else if err := c.player.Play(context.Background(), data); err != nil {
		c.logger.Printf("prompt audio playback failed: %v", err)
		outcome = "failed"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleLocked(outcome)
}

// settleLocked moves QuestionPlaying to ReadyToRecord. A settlement arriving
// in any other state (e.g. after the final turn) is a no-op.
func (c *Controller) settleLocked(outcome string) {
	c.trail.Log(EventPlaybackSettled, map[string]any{"outcome": outcome})
	if c.state == StateQuestionPlaying {
		c.setStateLocked(StateReadyToRecord)
	}
}

func (c *Controller) setStateLocked(s State) {
	if s == c.state {
		return
	}
	c.trail.Log(EventStateChanged, map[string]any{"from": c.state.String(), "to": s.String()})
	c.state = s
	c.cond.Broadcast()
	if c.hooks.StateChanged != nil {
		c.hooks.StateChanged(s)
	}
}

func (c *Controller) notice(msg string) {
	if c.hooks.Notice != nil {
		c.hooks.Notice(msg)
	}
}

// State returns the current machine state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CanRecord reports whether a start-recording action would be honored.
func (c *Controller) CanRecord() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateReadyToRecord && !c.finished
}

// Prompt returns the current assistant prompt text.
func (c *Controller) Prompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompt
}

// Fields returns a copy of the accumulated answers.
func (c *Controller) Fields() map[string]string {
	c.mu.Lock()
	f := c.fields
	c.mu.Unlock()
	return f.Snapshot()
}

// SessionID returns the active session's identifier, empty before Start.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Trail returns the session event trail.
func (c *Controller) Trail() *Trail {
	return c.trail
}

// WaitSettled blocks until the machine leaves its transient states
// (Starting, QuestionPlaying, Submitting) and returns the state it landed
// in. UIs use this to wait out prompt playback before offering recording.
func (c *Controller) WaitSettled(ctx context.Context) (State, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		case <-done:
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state == StateStarting || c.state == StateQuestionPlaying || c.state == StateSubmitting {
		if err := ctx.Err(); err != nil {
			return c.state, err
		}
		c.cond.Wait()
	}
	return c.state, nil
}

// captureMessage maps the capture error taxonomy onto tailored user-facing
// messages.
func captureMessage(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Microphone permission denied. Please enable microphone access in your settings."
	case errors.Is(err, audio.ErrDeviceNotFound):
		return "No microphone found. Please connect a microphone and try again."
	case errors.Is(err, audio.ErrEmptyCapture):
		return "No audio recorded. Please try again."
	default:
		return fmt.Sprintf("Microphone error: %v", err)
	}
}

// userDetail prefers the engine's human-readable detail when present.
func userDetail(err error) string {
	var te *transport.Error
	if errors.As(err, &te) && te.Detail != "" {
		return te.Detail
	}
	return err.Error()
}
