// Package enginesim is a local stand-in for the remote dialogue engine. It
// speaks the engine's wire protocol with a scripted interview so the client
// can be exercised end to end without the real engine. It deliberately does
// no speech-to-text or speech synthesis: transcription is faked and prompt
// audio is a generated tone.
package enginesim

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/masonivr/voiceclient/internal/audio"
)

type session struct {
	language string
	fieldIdx int
	fields   map[string]string
	finished bool

	// De-duplication by turn sequence: a retried submission for the same
	// seq returns the cached response instead of advancing the dialogue.
	lastSeq  int
	lastResp map[string]any
}

// Server holds all simulator state in memory. One Server serves any number
// of concurrent sessions.
type Server struct {
	logger *log.Logger

	mu       sync.Mutex
	sessions map[string]*session
	audio    map[string][]byte
	audioSeq int

	mux *http.ServeMux
}

// New creates a simulator.
func New(logger *log.Logger) *Server {
	s := &Server{
		logger:   logger,
		sessions: make(map[string]*session),
		audio:    make(map[string][]byte),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the simulator's HTTP handler.
func (s *Server) Handler() http.Handler {
	return withSentryRecovery(withCORS(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /reset", s.handleReset)
	s.mux.HandleFunc("POST /ivr/start", s.handleStart)
	s.mux.HandleFunc("POST /ivr", s.handleTurn)
	s.mux.HandleFunc("GET /audio/{name}", s.handleAudio)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "MASON IVR engine simulator"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PostFormValue("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"session_id"}, "msg": "field required"}},
		})
		return
	}

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	s.logger.Printf("session %s reset", sessionID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "Session reset"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PostFormValue("session_id")
	language := r.PostFormValue("language")
	if language == "" {
		language = "en"
	}
	if sessionID == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"session_id"}, "msg": "field required"}},
		})
		return
	}
	if !supportedLanguage(language) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"language"}, "msg": fmt.Sprintf("unsupported language %q", language)}},
		})
		return
	}

	sess := &session{language: language, fields: make(map[string]string)}
	s.mu.Lock()
	s.sessions[sessionID] = sess
	audioURL := s.storePromptAudioLocked()
	s.mu.Unlock()

	s.logger.Printf("session %s started (language %s)", sessionID, language)
	writeJSON(w, http.StatusOK, map[string]any{
		"assistant_text": questions[language]["name"],
		"audio_url":      audioURL,
		"finished":       false,
		"fields":         fieldView(sess.fields),
	})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "malformed multipart body"})
		return
	}
	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "message": "session_id is required"})
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"file"}, "msg": "field required"}},
		})
		return
	}
	defer file.Close()
	size := 0
	buf := make([]byte, 32<<10)
	for {
		n, err := file.Read(buf)
		size += n
		if err != nil {
			break
		}
	}
	if size == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "message": "Audio file is empty"})
		return
	}

	seq, _ := strconv.Atoi(r.FormValue("turn_seq"))

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		// An unknown session starts fresh in English, like the real engine.
		sess = &session{language: "en", fields: make(map[string]string)}
		s.sessions[sessionID] = sess
	}

	if seq != 0 && seq == sess.lastSeq && sess.lastResp != nil {
		s.logger.Printf("session %s: duplicate turn_seq %d, replaying cached turn", sessionID, seq)
		writeJSON(w, http.StatusOK, sess.lastResp)
		return
	}

	resp := s.advanceLocked(sess, size)
	if seq != 0 {
		sess.lastSeq = seq
		sess.lastResp = resp
	}
	writeJSON(w, http.StatusOK, resp)
}

// advanceLocked consumes one answer and produces the next turn. Caller
// holds s.mu.
func (s *Server) advanceLocked(sess *session, audioBytes int) map[string]any {
	lang := sess.language

	if sess.finished {
		return map[string]any{
			"status":         "success",
			"assistant_text": completions[lang],
			"finished":       true,
			"fields":         fieldView(sess.fields),
			"user_text":      "",
		}
	}

	field := fieldOrder[sess.fieldIdx]
	userText := fakeTranscript(field, audioBytes)
	sess.fields[field] = userText
	sess.fieldIdx++

	var assistantText string
	if sess.fieldIdx >= len(fieldOrder) {
		sess.finished = true
		assistantText = completions[lang]
	} else {
		assistantText = questions[lang][fieldOrder[sess.fieldIdx]]
	}

	return map[string]any{
		"status":         "success",
		"assistant_text": assistantText,
		"audio_url":      s.storePromptAudioLocked(),
		"finished":       sess.finished,
		"fields":         fieldView(sess.fields),
		"user_text":      userText,
	}
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mu.Lock()
	data, ok := s.audio[name]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	_, _ = w.Write(data)
}

// storePromptAudioLocked generates a short tone WAV standing in for
// synthesized prompt speech and returns its URL path. Old prompts are pruned
// so memory stays bounded. Caller holds s.mu.
func (s *Server) storePromptAudioLocked() string {
	const keep = 32

	s.audioSeq++
	name := fmt.Sprintf("prompt-%d.wav", s.audioSeq)
	s.audio[name] = promptTone()
	if old := s.audioSeq - keep; old > 0 {
		delete(s.audio, fmt.Sprintf("prompt-%d.wav", old))
	}
	return "/audio/" + name
}

// promptTone renders 300ms of a 440Hz sine at 16kHz mono 16-bit.
func promptTone() []byte {
	const (
		rate     = 16000
		duration = 0.3
		freq     = 440.0
	)
	n := int(rate * duration)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		sample := int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/rate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
	}
	return audio.EncodeWAV(pcm, audio.Format{SampleRate: rate, Channels: 1, BitDepth: 16})
}

// fieldView renders the accumulator the way the engine does: every field
// key present, unanswered ones null.
func fieldView(fields map[string]string) map[string]any {
	out := make(map[string]any, len(fieldOrder))
	for _, f := range fieldOrder {
		if v, ok := fields[f]; ok {
			out[f] = v
		} else {
			out[f] = nil
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}
