package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/khalid-1/antigravity-mobile/internal/config"
	"github.com/khalid-1/antigravity-mobile/internal/ledger"
	"github.com/khalid-1/antigravity-mobile/internal/llm"
	"github.com/khalid-1/antigravity-mobile/internal/logging"
)

// Session holds the in-memory model context for one project. History keeps
// the full turn structure including tool traffic so multi-step work stays
// coherent within a run.
type Session struct {
	ProjectID string
	ModelID   string
	History   []llm.Content
	CreatedAt time.Time
}

// Registry manages one live session per project.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ledger   *ledger.Ledger
	fallback string
}

func NewRegistry(led *ledger.Ledger, fallbackModel string) *Registry {
	if fallbackModel == "" {
		fallbackModel = config.DefaultModel
	}
	return &Registry{
		sessions: make(map[string]*Session),
		ledger:   led,
		fallback: fallbackModel,
	}
}

// ResolveModel applies the model policy. Foreign model families are
// remapped to the default, and attachments force a multimodal-capable
// model when the requested one is not.
func (r *Registry) ResolveModel(requested string, hasAttachment bool) string {
	model := strings.TrimSpace(requested)
	lower := strings.ToLower(model)
	if model == "" || strings.HasPrefix(lower, "claude") || strings.HasPrefix(lower, "gpt") {
		if model != "" {
			logging.DevLog("session: remapping unsupported model %s to %s", model, r.fallback)
		}
		model = r.fallback
	}
	if hasAttachment && !multimodal(model) {
		logging.DevLog("session: attachment present, switching %s to %s", model, config.DefaultMultimodalModel)
		model = config.DefaultMultimodalModel
	}
	return model
}

func multimodal(model string) bool {
	return model != "" && !strings.Contains(model, "1.5")
}

// GetOrCreate returns the live session for projectID, creating one if
// needed. A model change replaces the session so stale context from a
// different model does not leak.
func (r *Registry) GetOrCreate(projectID, modelID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[projectID]
	if ok && sess.ModelID == modelID {
		return sess
	}
	sess = &Session{
		ProjectID: projectID,
		ModelID:   modelID,
		CreatedAt: time.Now(),
	}
	r.sessions[projectID] = sess
	return sess
}

// Active reports whether a live session exists for projectID.
func (r *Registry) Active(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[projectID]
	return ok
}

// Clear drops the session for projectID, if any.
func (r *Registry) Clear(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, projectID)
}

// ClearAll drops every live session.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*Session)
}

// SystemInstruction composes the instruction sent with every model call:
// where the agent is working, what undo state exists, and how to behave.
func (r *Registry) SystemInstruction(projectID, projectRoot string) string {
	var b strings.Builder
	b.WriteString("You are a coding agent operating on the user's project.\n")
	fmt.Fprintf(&b, "Project root: %s\n", projectRoot)
	b.WriteString("All file paths you use must be relative to the project root.\n")
	if r.ledger != nil {
		b.WriteString(r.ledger.Summary(projectID))
		b.WriteString("\n")
	}
	b.WriteString("If the user asks to undo or revert the last change, call undo_last_write immediately instead of editing files by hand.\n")
	b.WriteString("Keep answers short; the user is reading on a phone.")
	return b.String()
}
