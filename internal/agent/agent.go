package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/khalid-1/antigravity-mobile/internal/broadcast"
	"github.com/khalid-1/antigravity-mobile/internal/config"
	"github.com/khalid-1/antigravity-mobile/internal/ledger"
	"github.com/khalid-1/antigravity-mobile/internal/llm"
	"github.com/khalid-1/antigravity-mobile/internal/logging"
	"github.com/khalid-1/antigravity-mobile/internal/project"
	"github.com/khalid-1/antigravity-mobile/internal/session"
	"github.com/khalid-1/antigravity-mobile/internal/state"
	"github.com/khalid-1/antigravity-mobile/internal/tooling"
	"github.com/khalid-1/antigravity-mobile/internal/workspace"
)

// stopMarker is appended to the visible output when a run is cancelled.
const stopMarker = "\n\n[Agent Stopped]"

// missingKeyGuidance is returned instead of calling the provider when no
// API key is configured.
const missingKeyGuidance = "No API key is configured. Add your Gemini API key in the settings before sending messages."

// SendRequest describes one user message entering the loop.
type SendRequest struct {
	ProjectID      string
	ConversationID string
	ModelID        string
	Message        string
	Attachment     *llm.Blob
}

// Runner owns the tool-calling loop. One loop runs per request; requests
// for different projects may run concurrently.
type Runner struct {
	client        llm.Client
	cfg           config.Config
	sessions      *session.Registry
	ledger        *ledger.Ledger
	store         *state.Store
	hub           *broadcast.Hub
	stops         *Stops
	projects      *project.Store
	keyConfigured bool
}

func NewRunner(client llm.Client, cfg config.Config, sessions *session.Registry, led *ledger.Ledger, store *state.Store, hub *broadcast.Hub, projects *project.Store, keyConfigured bool) *Runner {
	return &Runner{
		client:        client,
		cfg:           cfg,
		sessions:      sessions,
		ledger:        led,
		store:         store,
		hub:           hub,
		stops:         NewStops(),
		projects:      projects,
		keyConfigured: keyConfigured,
	}
}

// Send validates the request and starts the loop in the background. It
// returns the request ID used for streaming and cancellation, plus the
// conversation ID the exchange will be persisted under.
func (r *Runner) Send(req SendRequest) (requestID, conversationID string, err error) {
	if req.Message == "" {
		return "", "", errors.New("message is required")
	}
	proj, guard, err := r.projects.Resolve(req.ProjectID)
	if err != nil {
		return "", "", err
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	requestID = nextRequestID()
	logging.UserLog("agent: request %s for project %s", requestID, proj.ID)
	go r.run(requestID, req, proj, guard)
	return requestID, req.ConversationID, nil
}

// Stop marks requestID for cancellation and drops the project's live
// session so the next message starts a fresh context. The loop notices
// at its next checkpoint; calling Stop twice, or for a finished
// request, is harmless.
func (r *Runner) Stop(requestID, projectID string) {
	r.stops.RequestStop(requestID)
	if projectID != "" {
		r.sessions.Clear(projectID)
	}
}

// ClearSession drops a project's in-memory context along with its undo
// history. An empty projectID clears every project.
func (r *Runner) ClearSession(projectID string) {
	if projectID == "" {
		r.sessions.ClearAll()
		r.ledger.ClearAll()
		return
	}
	r.sessions.Clear(projectID)
	r.ledger.Clear(projectID)
}

func (r *Runner) run(requestID string, req SendRequest, proj project.Project, guard workspace.Guard) {
	if !r.keyConfigured {
		// No provider call and no session for an unconfigured daemon.
		r.publishToken(requestID, proj.ID, missingKeyGuidance)
		r.finalize(requestID, req, proj.ID, missingKeyGuidance)
		return
	}

	model := r.sessions.ResolveModel(req.ModelID, req.Attachment != nil)
	sess := r.sessions.GetOrCreate(proj.ID, model)

	registry := tooling.NewRegistry(tooling.Options{
		Guard:        guard,
		ProjectID:    proj.ID,
		Ledger:       r.ledger,
		ShellTimeout: r.cfg.ShellTimeout(),
		Logs: func(line string, isError bool) {
			r.hub.Publish(broadcast.Event{
				Type:      broadcast.TypeLogLine,
				RequestID: requestID,
				ProjectID: proj.ID,
				Line:      line,
				IsError:   isError,
			})
		},
	})

	userParts := []llm.Part{{Text: req.Message}}
	if req.Attachment != nil {
		userParts = append(userParts, llm.Part{InlineData: req.Attachment})
	}
	local := append(append([]llm.Content(nil), sess.History...), llm.Content{Role: llm.RoleUser, Parts: userParts})

	var finalText string
	stopped := false

	// Finalization runs on every exit path: the visible stream always
	// ends with chat:done, the stop flag never leaks, and the exchange
	// is persisted before clients are told to refresh.
	defer func() {
		if stopped {
			finalText += stopMarker
			r.publishToken(requestID, proj.ID, stopMarker)
			r.hub.Publish(broadcast.Event{Type: broadcast.TypeStop, RequestID: requestID, ProjectID: proj.ID})
		}
		sess.History = local
		r.finalize(requestID, req, proj.ID, finalText)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for iteration := 0; iteration < r.cfg.MaxLoopIterations; iteration++ {
		if r.stops.Requested(requestID) {
			stopped = true
			return
		}

		resp, err := r.client.Generate(ctx, llm.GenerateRequest{
			Model:             sess.ModelID,
			SystemInstruction: r.sessions.SystemInstruction(proj.ID, guard.Root()),
			Tools:             tooling.Declarations(),
			Contents:          local,
		})
		if err != nil {
			// Provider failures end the run; tool failures never reach
			// this branch.
			msg := err.Error()
			if pe, ok := llm.IsProviderError(err); ok {
				msg = pe.Message
			}
			logging.ErrorLog("agent: request %s provider error: %v", requestID, err)
			finalText = appendText(finalText, "Error: "+msg)
			r.publishToken(requestID, proj.ID, "Error: "+msg)
			return
		}

		local = append(local, resp.Content)
		if resp.Text != "" {
			// Text that arrives alongside tool calls still belongs to
			// the persisted transcript, not just the live stream.
			finalText = appendText(finalText, resp.Text)
			r.publishToken(requestID, proj.ID, resp.Text)
		}
		if len(resp.FunctionCalls) == 0 {
			return
		}

		responses := make([]llm.Part, 0, len(resp.FunctionCalls))
		for _, call := range resp.FunctionCalls {
			if stopped || r.stops.Requested(requestID) {
				// Answer remaining calls so the recorded history stays
				// well formed for the next run.
				stopped = true
				responses = append(responses, llm.Part{FunctionResponse: &llm.FunctionResponse{
					Name:     call.Name,
					Response: map[string]any{"error": "cancelled by user"},
				}})
				continue
			}
			r.hub.Publish(broadcast.Event{
				Type:      broadcast.TypeAction,
				RequestID: requestID,
				ProjectID: proj.ID,
				Action:    call.Name,
				Detail:    summarizeArgs(call.Args),
			})
			result, callErr := registry.Dispatch(ctx, call.Name, call.Args)
			if callErr != nil {
				logging.DevLog("agent: tool %s failed: %v", call.Name, callErr)
				result = map[string]any{"error": callErr.Error()}
			}
			responses = append(responses, llm.Part{FunctionResponse: &llm.FunctionResponse{
				Name:     call.Name,
				Response: result,
			}})
		}
		local = append(local, llm.Content{Role: llm.RoleUser, Parts: responses})
		if stopped {
			return
		}
	}

	note := fmt.Sprintf("Stopped after %d tool-call rounds without a final answer.", r.cfg.MaxLoopIterations)
	finalText = appendText(finalText, note)
	r.publishToken(requestID, proj.ID, note)
}

// finalize persists the exchange and closes the visible stream.
func (r *Runner) finalize(requestID string, req SendRequest, projectID, finalText string) {
	now := time.Now()
	turns := []state.Turn{{Role: state.RoleUser, Content: req.Message, At: now}}
	if finalText != "" {
		turns = append(turns, state.Turn{Role: state.RoleModel, Content: finalText, At: now})
	}
	if err := r.store.AppendTurns(req.ConversationID, projectID, turns); err != nil {
		logging.ErrorLog("agent: persist conversation %s: %v", req.ConversationID, err)
	}
	r.hub.Publish(broadcast.Event{Type: broadcast.TypeConversationsChanged, ProjectID: projectID})
	r.hub.Publish(broadcast.Event{Type: broadcast.TypeDone, RequestID: requestID, ProjectID: projectID})
	r.stops.Clear(requestID)
}

// appendText joins model text produced across loop iterations into the
// single transcript entry that gets persisted.
func appendText(transcript, piece string) string {
	if transcript == "" {
		return piece
	}
	return transcript + "\n\n" + piece
}

func (r *Runner) publishToken(requestID, projectID, text string) {
	r.hub.Publish(broadcast.Event{
		Type:      broadcast.TypeToken,
		RequestID: requestID,
		ProjectID: projectID,
		Token:     text,
	})
}

// summarizeArgs renders a compact view of tool arguments for the action
// stream. Large values are elided.
func summarizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	compact := make(map[string]any, len(args))
	for key, val := range args {
		if text, ok := val.(string); ok && len(text) > 120 {
			compact[key] = text[:120] + "..."
			continue
		}
		compact[key] = val
	}
	data, err := json.Marshal(compact)
	if err != nil {
		return ""
	}
	return string(data)
}
