package interview

// State is the single tagged machine state of an interview. Every UI
// affordance derives from it; there are no side-channel boolean flags.
type State int

const (
	// StateIdle is the initial state, before a language is chosen.
	StateIdle State = iota

	// StateLanguageSelected means the language is fixed and the session can
	// be started. Also the fallback state when starting fails.
	StateLanguageSelected

	// StateStarting covers session reset and opening-turn retrieval.
	StateStarting

	// StateQuestionPlaying means the current prompt audio is being played.
	StateQuestionPlaying

	// StateReadyToRecord means the user may start recording an answer.
	StateReadyToRecord

	// StateRecording means the microphone is live.
	StateRecording

	// StateSubmitting means a captured answer is in flight to the engine.
	StateSubmitting

	// StateFinished means the engine reported the interview complete. No
	// further capture can be armed.
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLanguageSelected:
		return "language_selected"
	case StateStarting:
		return "starting"
	case StateQuestionPlaying:
		return "question_playing"
	case StateReadyToRecord:
		return "ready_to_record"
	case StateRecording:
		return "recording"
	case StateSubmitting:
		return "submitting"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}
