package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hyunwoolee/gemini-relay/internal/config"
	"github.com/hyunwoolee/gemini-relay/internal/model/genai"
	"github.com/hyunwoolee/gemini-relay/internal/service/keypool"
	"github.com/hyunwoolee/gemini-relay/internal/service/session"
	"github.com/hyunwoolee/gemini-relay/internal/service/upstream"
	"github.com/hyunwoolee/gemini-relay/pkg/utils"
)

// actions supported by the endpoint, reported on unknown-action errors.
var actions = []string{"generate", "newSession", "clearSession", "models", "test"}

// Generator runs the retried generation call. Satisfied by
// *upstream.Service; declared here so handler tests can stub the upstream.
type Generator interface {
	Generate(ctx context.Context, model string, contents []genai.Content, genCfg map[string]any, progress upstream.ProgressFunc) (*genai.GenerateResponse, error)
}

// Handler serves the action endpoint of the relay.
type Handler struct {
	generator Generator
	sessions  session.Store
	pool      *keypool.Pool
	cfg       *config.Config
}

// New creates the action handler.
func New(generator Generator, sessions session.Store, pool *keypool.Pool, cfg *config.Config) *Handler {
	return &Handler{
		generator: generator,
		sessions:  sessions,
		pool:      pool,
		cfg:       cfg,
	}
}

// RegisterRoutes mounts the action endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api", h.handleAction)
	r.Get("/api", h.handleAction)
}

// handleAction dispatches on the action query parameter, the calling
// convention existing clients already use.
func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("action") {
	case "generate":
		h.handleGenerate(w, r)
	case "newSession":
		h.handleNewSession(w, r)
	case "clearSession":
		h.handleClearSession(w, r)
	case "test":
		h.handleTest(w, r)
	case "models":
		h.handleModels(w, r)
	default:
		utils.RespondJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "invalid action",
			"actions": actions,
		})
	}
}

type generateRequest struct {
	Prompt    string         `json:"prompt"`
	Model     string         `json:"model"`
	SessionID string         `json:"sessionId"`
	Images    []imagePayload `json:"images"`
}

type imagePayload struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type generateResponse struct {
	SessionID string        `json:"sessionId"`
	Text      string        `json:"text"`
	Images    []genai.Image `json:"images"`
}

// handleGenerate forwards one generation request upstream. Apart from the
// upfront validation failure, every outcome is reported with HTTP 200 and
// an in-band error object: the keep-alive padding emitted during long
// calls has usually committed the status code already.
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.Server.MaxUploadSize+1))
	if err != nil {
		utils.RespondError(w, http.StatusOK, "failed to read request body")
		return
	}
	if int64(len(raw)) > h.cfg.Server.MaxUploadSize {
		utils.RespondError(w, http.StatusOK, fmt.Sprintf(
			"Request too large. Please reduce image size. (current: %.2fMB)",
			float64(len(raw))/1024/1024))
		return
	}

	var input generateRequest
	if err := json.Unmarshal(raw, &input); err != nil {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"error":     "JSON parse error: " + err.Error(),
			"inputSize": len(raw),
		})
		return
	}

	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" && len(input.Images) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "A prompt or image is required.")
		return
	}

	model := input.Model
	if model == "" {
		model = h.cfg.Upstream.DefaultModel
	}
	sessionID := input.SessionID
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	isImageModel := genai.IsImageModel(model)

	var parts []genai.Part
	if prompt != "" {
		parts = append(parts, genai.TextPart(prompt))
	}
	for _, img := range input.Images {
		if img.Data != "" && img.MimeType != "" {
			parts = append(parts, genai.ImagePart(img.MimeType, img.Data))
		}
	}
	userTurn := genai.UserContent(parts...)

	// Image models have no multi-turn support: send only the current
	// message and leave history untouched.
	var history []genai.Content
	contents := []genai.Content{userTurn}
	if !isImageModel {
		history, _ = h.sessions.Load(ctx, sessionID)
		contents = append(append(make([]genai.Content, 0, len(history)+1), history...), userTurn)
	}

	var genCfg map[string]any
	if isImageModel {
		genCfg = genai.ImageGenerationConfig()
	}

	log.Printf("[api] generate model=%s session=%s parts=%d history=%d", model, session.SanitizeID(sessionID), len(parts), len(history))

	// Keep-alive: a single space roughly every keep-alive interval holds
	// idle-timeout intermediaries open. Leading whitespace is legal JSON,
	// so the padded body still parses. The mutex serializes padding
	// against the final write.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	var mu sync.Mutex
	flusher, _ := w.(http.Flusher)
	progress := func() {
		mu.Lock()
		defer mu.Unlock()
		_, _ = io.WriteString(w, " ")
		if flusher != nil {
			flusher.Flush()
		}
	}

	resp, err := h.generator.Generate(ctx, model, contents, genCfg, progress)

	mu.Lock()
	defer mu.Unlock()

	if err != nil {
		var upErr *upstream.Error
		if errors.As(err, &upErr) {
			payload := map[string]any{
				"error":   upErr.Message,
				"model":   model,
				"retries": upErr.Attempts,
			}
			if upErr.Details != "" {
				payload["details"] = upErr.Details
			}
			writeBody(w, payload)
			return
		}
		writeBody(w, map[string]any{"error": "generation failed: " + err.Error()})
		return
	}

	text, images, modelParts := genai.SplitParts(resp)

	if !isImageModel && len(modelParts) > 0 {
		history = append(history, userTurn, genai.ModelContent(modelParts...))
		if err := h.sessions.Save(ctx, sessionID, history); err != nil {
			log.Printf("[api] failed to persist session %s: %v", session.SanitizeID(sessionID), err)
		}
	}

	if images == nil {
		images = []genai.Image{}
	}
	writeBody(w, generateResponse{SessionID: sessionID, Text: text, Images: images})
}

func (h *Handler) handleNewSession(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"sessionId": NewSessionID()})
}

// handleClearSession deletes the session record. Idempotent: clearing an
// unknown or empty id still reports success.
func (h *Handler) handleClearSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)

	if payload.SessionID != "" {
		if err := h.sessions.Clear(r.Context(), payload.SessionID); err != nil {
			log.Printf("[api] failed to clear session %s: %v", session.SanitizeID(payload.SessionID), err)
		}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleTest reports pool and retry diagnostics. Only a truncated key
// preview ever leaves the process.
func (h *Handler) handleTest(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"apiKeySet":      h.pool.Size() > 0,
		"apiKeyPreview":  keypool.Preview(h.pool.PickRandom()),
		"totalKeys":      h.pool.Size(),
		"maxRetries":     h.cfg.Upstream.MaxRetries,
		"defaultModel":   h.cfg.Upstream.DefaultModel,
		"sessionBackend": h.cfg.Session.Backend,
	})
}

func (h *Handler) handleModels(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"models": genai.Catalog()})
}

// NewSessionID issues a fresh session id that survives storage-key
// sanitization unchanged.
func NewSessionID() string {
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// writeBody encodes the final payload without touching the status code,
// which keep-alive padding may have committed already.
func writeBody(w http.ResponseWriter, payload any) {
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[api] failed to encode response: %v", err)
	}
}
