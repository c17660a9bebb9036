// Package agentengine provides a minimal in-process implementation of
// gwcontracts.AgentEngine for tests and standalone operation. The
// production engine is an external collaborator per spec.md §1; this
// reference engine answers every prompt from a background goroutine and
// publishes its reply as a sequence of assistant deltas on the event bus, the
// way the teacher's notify.Service dispatches to a registered driver
// (internal/notify/service.go) rather than performing the work
// itself.
package agentengine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/hanzoai/gateway/internal/eventbus"
)

// Reference is an echo-style agent engine: it answers the prompt's
// last "User:" line with "Acknowledged: " plus that line, streamed word
// by word as assistant deltas, estimating token counts by word count.
type Reference struct {
	Bus *eventbus.Bus
}

// NewReference builds a Reference engine publishing onto bus.
func NewReference(bus *eventbus.Bus) *Reference {
	return &Reference{Bus: bus}
}

// StartRun satisfies gwcontracts.AgentEngine. The run executes in its
// own goroutine, so StartRun returns as soon as the run ID is minted,
// matching the "accepted, not finished" contract.
func (r *Reference) StartRun(ctx context.Context, sessionKey, agentID, prompt string) (string, error) {
	runID := uuid.NewString()
	go r.run(runID, prompt)
	return runID, nil
}

func (r *Reference) run(runID, prompt string) {
	reply := replyFor(prompt)
	words := strings.Fields(reply)

	r.Bus.Publish(eventbus.Event{RunID: runID, Stream: eventbus.StreamLifecycle, Phase: eventbus.PhaseStart})

	for i, w := range words {
		delta := w
		if i > 0 {
			delta = " " + w
		}
		r.Bus.Publish(eventbus.Event{RunID: runID, Stream: eventbus.StreamAssistant, Payload: delta})
	}

	inputTokens := len(strings.Fields(prompt))
	outputTokens := len(words)
	r.Bus.Publish(eventbus.Event{
		RunID:        runID,
		Stream:       eventbus.StreamLifecycle,
		Phase:        eventbus.PhaseEnd,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
	})
}

// replyFor extracts the most recent "User:" tagged line from a
// reshaped prompt (per spec.md §4.12) and answers with a canned
// acknowledgement; a real engine would dispatch to a model here.
func replyFor(prompt string) string {
	lines := strings.Split(prompt, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "User: ") {
			return "Acknowledged: " + strings.TrimPrefix(lines[i], "User: ")
		}
	}
	return ""
}
