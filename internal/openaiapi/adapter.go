// Package openaiapi implements the OpenAI-compatible adapter (C12):
// POST /v1/chat/completions, with both a non-streaming JSON response
// and an SSE streaming response bridged from the internal agent-event
// bus. Request shape and streaming-loop structure follow the pack's
// zkoranges-go-claw gateway handler
// (internal/gateway/openai_handler.go), adapted to dispatch through
// gwcontracts.AgentEngine and eventbus.Bus instead of that repo's
// Brain/bus types, and to pre-dispatch the billing gate (C7).
package openaiapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hanzoai/gateway/internal/billing"
	"github.com/hanzoai/gateway/internal/connauth"
	"github.com/hanzoai/gateway/internal/eventbus"
	"github.com/hanzoai/gateway/internal/usage"
	"github.com/hanzoai/gateway/pkg/gwcontracts"
	"github.com/hanzoai/gateway/pkg/gwmodels"
)

// message mirrors an OpenAI chat message.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type chatCompletionRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
	User     string    `json:"user"`
}

// Deps bundles the adapter's collaborators.
type Deps struct {
	Gate              *billing.Gate
	Usage             *usage.Reporter
	Bus               *eventbus.Bus
	Engine            gwcontracts.AgentEngine
	DefaultAgentID    string
	NoResponseMessage string
	KnownAgentIDs     map[string]struct{}
	IAMConfigured     bool
}

// Adapter serves the OpenAI-compatible chat-completions endpoint.
type Adapter struct {
	deps Deps
}

// New builds an Adapter.
func New(deps Deps) *Adapter {
	if deps.DefaultAgentID == "" {
		deps.DefaultAgentID = "default"
	}
	if deps.NoResponseMessage == "" {
		deps.NoResponseMessage = "No response from Hanzo Bot."
	}
	return &Adapter{deps: deps}
}

func (a *Adapter) writeError(w http.ResponseWriter, status int, errType, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": msg, "type": errType},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// HandleChatCompletions implements POST /v1/chat/completions.
func (a *Adapter) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			a.writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
			return
		}
		a.writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
		return
	}
	if req.Messages == nil {
		a.writeError(w, http.StatusBadRequest, "invalid_request_error", "messages must be an array")
		return
	}

	prompt := reshapePrompt(req.Messages)
	if prompt == "" {
		a.writeError(w, http.StatusBadRequest, "invalid_request_error", "no usable content in messages")
		return
	}

	agentID := a.deps.DefaultAgentID
	if req.Model != "" {
		if _, known := a.deps.KnownAgentIDs[req.Model]; known {
			agentID = req.Model
		}
	}

	userOrConn := req.User
	if userOrConn == "" {
		userOrConn = uuid.NewString()
	}
	sessionKey := fmt.Sprintf("openai:%s:%s", agentID, userOrConn)

	decision, _ := connauth.FromContext(r.Context())
	orgID := ""
	if decision.Identity != nil {
		orgID = decision.Tenant.OrgID
	}
	if a.deps.Gate != nil {
		gd := a.deps.Gate.Check(r.Context(), a.deps.IAMConfigured, orgID, decision.UserID, "")
		if !gd.Allowed {
			writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"error": map[string]any{"message": gd.Reason, "type": "billing_error"},
			})
			return
		}
	}

	if a.deps.Engine == nil {
		a.writeError(w, http.StatusInternalServerError, "api_error", "agent engine not configured")
		return
	}

	runID, err := a.deps.Engine.StartRun(r.Context(), sessionKey, agentID, prompt)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "api_error", "internal error")
		return
	}

	if req.Stream {
		a.streamResponse(w, r.Context(), runID)
		return
	}
	a.nonStreamResponse(w, runID)
}

// reshapePrompt implements spec.md §4.12's message reshaping:
// system/developer messages become an extra system prompt; the rest
// become User|Assistant|Tool[:name] tagged lines.
func reshapePrompt(messages []message) string {
	var systemLines []string
	var convoLines []string

	for _, m := range messages {
		role := strings.ToLower(m.Role)
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		switch role {
		case "system", "developer":
			systemLines = append(systemLines, content)
		case "user":
			convoLines = append(convoLines, "User: "+content)
		case "assistant":
			convoLines = append(convoLines, "Assistant: "+content)
		case "tool", "function":
			tag := "Tool"
			if m.Name != "" {
				tag = "Tool:" + m.Name
			}
			convoLines = append(convoLines, tag+": "+content)
		}
	}

	var b strings.Builder
	if len(systemLines) > 0 {
		b.WriteString(strings.Join(systemLines, "\n\n"))
		if len(convoLines) > 0 {
			b.WriteString("\n\n")
		}
	}
	b.WriteString(strings.Join(convoLines, "\n"))
	return strings.TrimSpace(b.String())
}

func chatCompletionEnvelope(runID string, content string, inputTokens, outputTokens int) map[string]any {
	return map[string]any{
		"id":      runID,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     inputTokens,
			"completion_tokens": outputTokens,
			"total_tokens":      inputTokens + outputTokens,
		},
	}
}

// nonStreamResponse awaits the run's terminal event, then assembles
// the OpenAI chat-completion response per spec.md §4.8.
func (a *Adapter) nonStreamResponse(w http.ResponseWriter, runID string) {
	ch := a.deps.Bus.Subscribe(runID)

	var parts []string
	var inputTokens, outputTokens int
	for ev := range ch {
		switch {
		case ev.Stream == eventbus.StreamAssistant:
			if ev.Payload != "" {
				parts = append(parts, ev.Payload)
			}
		case ev.IsTerminal():
			inputTokens, outputTokens = ev.InputTokens, ev.OutputTokens
		}
	}

	content := joinNonEmpty(parts)
	if content == "" {
		content = a.deps.NoResponseMessage
	}

	if inputTokens != 0 || outputTokens != 0 {
		a.deps.Usage.Report(gwmodels.UsageRecord{
			Model:        runID,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
			Timestamp:    time.Now(),
		})
	}

	writeJSON(w, http.StatusOK, chatCompletionEnvelope(runID, content, inputTokens, outputTokens))
}

func joinNonEmpty(parts []string) string {
	var filtered []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			filtered = append(filtered, p)
		}
	}
	return strings.Join(filtered, "\n\n")
}

// streamResponse implements the SSE streaming path per spec.md §4.12.
func (a *Adapter) streamResponse(w http.ResponseWriter, ctx context.Context, runID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	ch := a.deps.Bus.Subscribe(runID)
	disconnect := ctx.Done()

	roleSent := false
	var sawDelta bool
	var parts []string

	writeChunk := func(delta map[string]any) {
		chunk := map[string]any{
			"id":      runID,
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"choices": []map[string]any{{"index": 0, "delta": delta}},
		}
		b, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}

	closed := false
	for {
		select {
		case <-disconnect:
			a.deps.Bus.Unsubscribe(runID, ch)
			closed = true
		case ev, ok := <-ch:
			if !ok {
				if !closed {
					fmt.Fprint(w, "data: [DONE]\n\n")
					flusher.Flush()
				}
				return
			}
			if closed {
				continue
			}
			switch {
			case ev.Stream == eventbus.StreamAssistant && ev.Payload != "":
				if !roleSent {
					writeChunk(map[string]any{"role": "assistant"})
					roleSent = true
				}
				writeChunk(map[string]any{"content": ev.Payload})
				parts = append(parts, ev.Payload)
				sawDelta = true
			case ev.IsTerminal():
				if ev.Phase == eventbus.PhaseError {
					writeChunk(map[string]any{"content": "Error: internal error"})
				} else if !sawDelta {
					content := joinNonEmpty(parts)
					if content == "" {
						content = a.deps.NoResponseMessage
					}
					writeChunk(map[string]any{"role": "assistant"})
					writeChunk(map[string]any{"content": content})
				}
				if ev.InputTokens != 0 || ev.OutputTokens != 0 {
					a.deps.Usage.Report(gwmodels.UsageRecord{
						Model:        runID,
						InputTokens:  ev.InputTokens,
						OutputTokens: ev.OutputTokens,
						TotalTokens:  ev.InputTokens + ev.OutputTokens,
						Timestamp:    time.Now(),
					})
				}
			}
		}
	}
}
