// Package transport is the network boundary to the remote dialogue engine:
// session reset, session start, turn submission and prompt audio retrieval
// over plain HTTP request/response.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Turn is one prompt unit received from the engine.
type Turn struct {
	AssistantText string
	AudioURL      string // optional, relative to the engine base URL
	Fields        map[string]string
	Finished      bool
	UserText      string // engine's transcription, diagnostic display only
}

// Client talks to one dialogue engine instance. All operations are keyed by
// the caller's session ID; the client itself holds no session state.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *log.Logger
}

// New creates a Client. httpc may be nil, in which case a client with a
// 30 second timeout is used; production callers pass the shared pooled client.
func New(baseURL string, httpc *http.Client, logger *log.Logger) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
		logger:  logger,
	}
}

// Health probes GET /health. Callers treat a failure as advisory only.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return &Error{Op: "health", Detail: err.Error()}
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return &Error{Op: "health", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: "health", StatusCode: resp.StatusCode}
	}
	return nil
}

// ResetSession clears any engine-side state for sessionID. Idempotent.
func (c *Client) ResetSession(ctx context.Context, sessionID string) error {
	form := url.Values{"session_id": {sessionID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reset",
		strings.NewReader(form.Encode()))
	if err != nil {
		return &Error{Op: "reset", Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &Error{Op: "reset", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return &Error{Op: "reset", StatusCode: resp.StatusCode, Detail: extractDetail(body)}
	}
	return nil
}

// StartSession requests the opening turn for a fresh session in the chosen
// language. Idempotent for a given sessionID.
func (c *Client) StartSession(ctx context.Context, sessionID, language string) (Turn, error) {
	form := url.Values{"session_id": {sessionID}, "language": {language}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ivr/start",
		strings.NewReader(form.Encode()))
	if err != nil {
		return Turn{}, &Error{Op: "start", Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.exchange("start", req)
}

// SubmitTurn sends the captured answer and returns the engine's next turn.
// seq is the client-generated turn sequence token; an engine that honors it
// can de-duplicate a retried submission instead of advancing dialogue state
// twice. Without that, SubmitTurn is NOT idempotent.
func (c *Client) SubmitTurn(ctx context.Context, sessionID string, seq int, data []byte, contentType string) (Turn, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return Turn{}, &Error{Op: "submit", Detail: err.Error()}
	}
	if err := mw.WriteField("turn_seq", strconv.Itoa(seq)); err != nil {
		return Turn{}, &Error{Op: "submit", Detail: err.Error()}
	}
	part, err := mw.CreateFormFile("file", answerFilename(contentType))
	if err != nil {
		return Turn{}, &Error{Op: "submit", Detail: err.Error()}
	}
	if _, err := part.Write(data); err != nil {
		return Turn{}, &Error{Op: "submit", Detail: err.Error()}
	}
	if err := mw.Close(); err != nil {
		return Turn{}, &Error{Op: "submit", Detail: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ivr", &body)
	if err != nil {
		return Turn{}, &Error{Op: "submit", Detail: err.Error()}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.exchange("submit", req)
}

// FetchAudio retrieves a prompt audio resource referenced by a turn.
func (c *Client) FetchAudio(ctx context.Context, ref string) ([]byte, error) {
	target := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(ref, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &Error{Op: "fetch audio", Detail: err.Error()}
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &Error{Op: "fetch audio", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: "fetch audio", StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// turnResponse is the engine's wire format for both /ivr/start and /ivr.
// Field values may be null for questions not yet answered; those are dropped
// so the caller's field accumulator only ever sees concrete values. The
// engine may also report an application error inside a 2xx body via status.
type turnResponse struct {
	Status        string             `json:"status"`
	Message       string             `json:"message"`
	AssistantText string             `json:"assistant_text"`
	AudioURL      string             `json:"audio_url"`
	Fields        map[string]*string `json:"fields"`
	Finished      bool               `json:"finished"`
	UserText      string             `json:"user_text"`
}

func (c *Client) exchange(op string, req *http.Request) (Turn, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return Turn{}, &Error{Op: op, Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Turn{}, &Error{Op: op, StatusCode: resp.StatusCode, Detail: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Printf("engine %s failed: status %d", op, resp.StatusCode)
		return Turn{}, &Error{Op: op, StatusCode: resp.StatusCode, Detail: extractDetail(body)}
	}

	var tr turnResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Turn{}, &Error{Op: op, StatusCode: resp.StatusCode,
			Detail: fmt.Sprintf("malformed engine response: %v", err)}
	}
	if tr.Status == "error" {
		return Turn{}, &Error{Op: op, StatusCode: resp.StatusCode, Detail: tr.Message}
	}
	if tr.AssistantText == "" {
		return Turn{}, &Error{Op: op, StatusCode: resp.StatusCode,
			Detail: "engine response is missing assistant_text"}
	}

	turn := Turn{
		AssistantText: tr.AssistantText,
		AudioURL:      tr.AudioURL,
		Finished:      tr.Finished,
		UserText:      tr.UserText,
	}
	if len(tr.Fields) > 0 {
		turn.Fields = make(map[string]string, len(tr.Fields))
		for k, v := range tr.Fields {
			if v != nil && *v != "" {
				turn.Fields[k] = *v
			}
		}
	}
	return turn, nil
}

func answerFilename(contentType string) string {
	switch contentType {
	case "audio/webm":
		return "answer.webm"
	case "audio/ogg":
		return "answer.ogg"
	default:
		return "answer.wav"
	}
}
