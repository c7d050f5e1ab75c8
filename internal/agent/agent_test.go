package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/khalid-1/antigravity-mobile/internal/broadcast"
	"github.com/khalid-1/antigravity-mobile/internal/config"
	"github.com/khalid-1/antigravity-mobile/internal/ledger"
	"github.com/khalid-1/antigravity-mobile/internal/llm"
	"github.com/khalid-1/antigravity-mobile/internal/project"
	"github.com/khalid-1/antigravity-mobile/internal/session"
	"github.com/khalid-1/antigravity-mobile/internal/state"
	"github.com/khalid-1/antigravity-mobile/internal/workspace"
)

type scriptStep struct {
	resp llm.GenerateResponse
	err  error
}

// scriptedClient returns canned responses in order and records every
// request it sees.
type scriptedClient struct {
	mu       sync.Mutex
	steps    []scriptStep
	requests []llm.GenerateRequest

	// When set, Generate signals called and waits for release before
	// answering. Used to stop a run at a known point.
	called  chan struct{}
	release chan struct{}
}

func (c *scriptedClient) Generate(_ context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	var step scriptStep
	if len(c.steps) > 0 {
		step = c.steps[0]
		c.steps = c.steps[1:]
	}
	called, release := c.called, c.release
	c.mu.Unlock()

	if called != nil {
		called <- struct{}{}
		<-release
	}
	return step.resp, step.err
}

func textResponse(text string) llm.GenerateResponse {
	content := llm.Content{Role: llm.RoleModel, Parts: []llm.Part{{Text: text}}}
	return llm.GenerateResponse{Content: content, Text: text}
}

func callResponse(name string, args map[string]any) llm.GenerateResponse {
	call := llm.FunctionCall{Name: name, Args: args}
	content := llm.Content{Role: llm.RoleModel, Parts: []llm.Part{{FunctionCall: &call}}}
	return llm.GenerateResponse{Content: content, FunctionCalls: []llm.FunctionCall{call}}
}

func textAndCallResponse(text, name string, args map[string]any) llm.GenerateResponse {
	call := llm.FunctionCall{Name: name, Args: args}
	content := llm.Content{Role: llm.RoleModel, Parts: []llm.Part{{Text: text}, {FunctionCall: &call}}}
	return llm.GenerateResponse{Content: content, Text: text, FunctionCalls: []llm.FunctionCall{call}}
}

func callsResponse(calls ...llm.FunctionCall) llm.GenerateResponse {
	parts := make([]llm.Part, len(calls))
	for i := range calls {
		parts[i] = llm.Part{FunctionCall: &calls[i]}
	}
	return llm.GenerateResponse{
		Content:       llm.Content{Role: llm.RoleModel, Parts: parts},
		FunctionCalls: calls,
	}
}

type testEnv struct {
	runner   *Runner
	hub      *broadcast.Hub
	store    *state.Store
	led      *ledger.Ledger
	sessions *session.Registry
	root     string
}

func newTestEnv(t *testing.T, client llm.Client, keyConfigured bool) *testEnv {
	t.Helper()
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "alpha"), 0755); err != nil {
		t.Fatalf("mkdir project: %v", err)
	}
	guard, err := workspace.NewGuard(root)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	store, err := state.NewStore(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	led := ledger.New()
	hub := broadcast.NewHub()
	cfg := config.Config{MaxLoopIterations: 8, ShellTimeoutSeconds: 10}
	sessions := session.NewRegistry(led, "")
	runner := NewRunner(client, cfg, sessions, led, store, hub, project.NewStore(guard), keyConfigured)
	return &testEnv{runner: runner, hub: hub, store: store, led: led, sessions: sessions, root: root}
}

// collectUntilDone drains hub events for requestID until chat:done.
func collectUntilDone(t *testing.T, events <-chan broadcast.Event, requestID string) []broadcast.Event {
	t.Helper()
	var out []broadcast.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.RequestID != "" && ev.RequestID != requestID {
				continue
			}
			out = append(out, ev)
			if ev.Type == broadcast.TypeDone {
				return out
			}
		case <-deadline:
			t.Fatalf("no chat:done for %s; got %d events", requestID, len(out))
		}
	}
}

func eventOfType(events []broadcast.Event, typ string) (broadcast.Event, bool) {
	for _, ev := range events {
		if ev.Type == typ {
			return ev, true
		}
	}
	return broadcast.Event{}, false
}

func TestPlainTextExchange(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{{resp: textResponse("All good.")}}}
	env := newTestEnv(t, client, true)
	events, cancel := env.hub.Subscribe()
	defer cancel()

	reqID, convID, err := env.runner.Send(SendRequest{ProjectID: "alpha", Message: "status?"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := collectUntilDone(t, events, reqID)

	token, ok := eventOfType(got, broadcast.TypeToken)
	if !ok || token.Token != "All good." {
		t.Fatalf("missing or wrong token event: %+v", got)
	}
	conv, err := env.store.Get(convID)
	if err != nil {
		t.Fatalf("Get conversation: %v", err)
	}
	if len(conv.Turns) != 2 || conv.Turns[1].Content != "All good." {
		t.Fatalf("persisted turns: %+v", conv.Turns)
	}
}

func TestToolErrorIsFedBackAndLoopContinues(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{resp: callResponse("read_file", map[string]any{"path": "missing.txt"})},
		{resp: textResponse("That file does not exist yet.")},
	}}
	env := newTestEnv(t, client, true)
	events, cancel := env.hub.Subscribe()
	defer cancel()

	reqID, _, err := env.runner.Send(SendRequest{ProjectID: "alpha", Message: "read missing.txt"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := collectUntilDone(t, events, reqID)

	if _, ok := eventOfType(got, broadcast.TypeAction); !ok {
		t.Fatal("no action event for the tool call")
	}
	token, ok := eventOfType(got, broadcast.TypeToken)
	if !ok || token.Token != "That file does not exist yet." {
		t.Fatalf("loop did not reach the final answer: %+v", got)
	}

	// The failed read must have been reported to the model as data.
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.requests) != 2 {
		t.Fatalf("model called %d times, want 2", len(client.requests))
	}
	second := client.requests[1]
	last := second.Contents[len(second.Contents)-1]
	if len(last.Parts) != 1 || last.Parts[0].FunctionResponse == nil {
		t.Fatalf("second request missing function response: %+v", last)
	}
	if _, hasErr := last.Parts[0].FunctionResponse.Response["error"]; !hasErr {
		t.Fatalf("function response has no error field: %+v", last.Parts[0].FunctionResponse.Response)
	}
}

func TestStopSkipsPendingToolCalls(t *testing.T) {
	client := &scriptedClient{
		steps: []scriptStep{
			{resp: callResponse("write_file", map[string]any{"path": "danger.txt", "content": "x"})},
		},
		called:  make(chan struct{}),
		release: make(chan struct{}),
	}
	env := newTestEnv(t, client, true)
	events, cancel := env.hub.Subscribe()
	defer cancel()

	reqID, _, err := env.runner.Send(SendRequest{ProjectID: "alpha", Message: "write something"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The model call is in flight; stop before it returns a tool call.
	<-client.called
	env.runner.Stop(reqID, "alpha")
	close(client.release)

	got := collectUntilDone(t, events, reqID)
	if _, ok := eventOfType(got, broadcast.TypeStop); !ok {
		t.Fatalf("no stop event: %+v", got)
	}
	token, ok := eventOfType(got, broadcast.TypeToken)
	if !ok || !strings.Contains(token.Token, "[Agent Stopped]") {
		t.Fatalf("missing stop marker token: %+v", got)
	}
	if _, err := os.Stat(filepath.Join(env.root, "alpha", "danger.txt")); !os.IsNotExist(err) {
		t.Fatal("tool call ran after stop was requested")
	}
	if env.runner.stops.Requested(reqID) {
		t.Fatal("stop flag not cleared during finalization")
	}
	if env.sessions.Active("alpha") {
		t.Fatal("stop left the project session behind")
	}
}

func TestWriteScenarioPersistsAllModelText(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{resp: textAndCallResponse("Creating hello.txt now.", "write_file", map[string]any{"path": "hello.txt", "content": "hi"})},
		{resp: textResponse("Done.")},
	}}
	env := newTestEnv(t, client, true)
	events, cancel := env.hub.Subscribe()
	defer cancel()

	reqID, convID, err := env.runner.Send(SendRequest{ProjectID: "alpha", Message: "create hello.txt with content 'hi'"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	collectUntilDone(t, events, reqID)

	data, err := os.ReadFile(filepath.Join(env.root, "alpha", "hello.txt"))
	if err != nil || string(data) != "hi" {
		t.Fatalf("hello.txt = %q, %v", data, err)
	}

	// Exactly one change record, marking the file as created.
	if n := env.led.Len("alpha"); n != 1 {
		t.Fatalf("ledger has %d records, want 1", n)
	}
	rec, ok := env.led.PopLast("alpha")
	if !ok || rec.File != "hello.txt" || rec.PreviousContent != nil {
		t.Fatalf("unexpected change record: %+v", rec)
	}

	// Text produced alongside the tool call belongs to the transcript
	// too, not only the final answer.
	conv, err := env.store.Get(convID)
	if err != nil {
		t.Fatalf("Get conversation: %v", err)
	}
	if len(conv.Turns) != 2 {
		t.Fatalf("persisted %d turns, want 2", len(conv.Turns))
	}
	want := "Creating hello.txt now.\n\nDone."
	if conv.Turns[1].Content != want {
		t.Fatalf("model turn = %q, want %q", conv.Turns[1].Content, want)
	}
}

func TestToolCallBatchRunsInOrder(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{resp: callsResponse(
			llm.FunctionCall{Name: "write_file", Args: map[string]any{"path": "seq.txt", "content": "A"}},
			llm.FunctionCall{Name: "write_file", Args: map[string]any{"path": "seq.txt", "content": "B"}},
		)},
		{resp: textResponse("done")},
	}}
	env := newTestEnv(t, client, true)
	events, cancel := env.hub.Subscribe()
	defer cancel()

	reqID, _, err := env.runner.Send(SendRequest{ProjectID: "alpha", Message: "write twice"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	collectUntilDone(t, events, reqID)

	data, err := os.ReadFile(filepath.Join(env.root, "alpha", "seq.txt"))
	if err != nil || string(data) != "B" {
		t.Fatalf("seq.txt = %q, %v", data, err)
	}

	// The second write snapshotted the first write's content, so the
	// first call finished before the second began.
	rec, ok := env.led.PopLast("alpha")
	if !ok || rec.PreviousContent == nil || *rec.PreviousContent != "A" {
		t.Fatalf("second record did not capture the first write: %+v", rec)
	}
	rec, ok = env.led.PopLast("alpha")
	if !ok || rec.PreviousContent != nil {
		t.Fatalf("first record should mark creation: %+v", rec)
	}

	// Both responses travel back to the model in call order.
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.requests) != 2 {
		t.Fatalf("model called %d times, want 2", len(client.requests))
	}
	second := client.requests[1]
	last := second.Contents[len(second.Contents)-1]
	if len(last.Parts) != 2 || last.Parts[0].FunctionResponse == nil || last.Parts[1].FunctionResponse == nil {
		t.Fatalf("batched function responses malformed: %+v", last)
	}
}

func TestClearSessionAlsoClearsLedger(t *testing.T) {
	env := newTestEnv(t, &scriptedClient{}, true)
	env.sessions.GetOrCreate("alpha", "m")
	env.led.RecordWrite("alpha", "a.txt", nil)
	env.sessions.GetOrCreate("beta", "m")
	env.led.RecordWrite("beta", "b.txt", nil)

	env.runner.ClearSession("alpha")
	if env.sessions.Active("alpha") || env.led.Len("alpha") != 0 {
		t.Fatal("alpha session or ledger not cleared")
	}
	if !env.sessions.Active("beta") || env.led.Len("beta") != 1 {
		t.Fatal("beta state should be untouched")
	}

	// The empty form clears everything.
	env.runner.ClearSession("")
	if env.sessions.Active("beta") || env.led.Len("beta") != 0 {
		t.Fatal("clear-all left beta state behind")
	}
}

func TestProviderErrorStillFinalizes(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{err: llm.NewProviderError("gemini", llm.ErrorTypeRateLimit, "429", "quota exhausted")},
	}}
	env := newTestEnv(t, client, true)
	events, cancel := env.hub.Subscribe()
	defer cancel()

	reqID, convID, err := env.runner.Send(SendRequest{ProjectID: "alpha", Message: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := collectUntilDone(t, events, reqID)

	token, ok := eventOfType(got, broadcast.TypeToken)
	if !ok || !strings.Contains(token.Token, "quota exhausted") {
		t.Fatalf("error not surfaced: %+v", got)
	}
	conv, err := env.store.Get(convID)
	if err != nil {
		t.Fatalf("conversation not persisted after provider error: %v", err)
	}
	if len(conv.Turns) != 2 {
		t.Fatalf("persisted %d turns, want 2", len(conv.Turns))
	}
	if env.runner.stops.Requested(reqID) {
		t.Fatal("stop flag left behind")
	}
}

func TestMissingKeyShortCircuits(t *testing.T) {
	client := &scriptedClient{}
	env := newTestEnv(t, client, false)
	events, cancel := env.hub.Subscribe()
	defer cancel()

	reqID, _, err := env.runner.Send(SendRequest{ProjectID: "alpha", Message: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := collectUntilDone(t, events, reqID)

	token, ok := eventOfType(got, broadcast.TypeToken)
	if !ok || !strings.Contains(token.Token, "API key") {
		t.Fatalf("missing key guidance not sent: %+v", got)
	}
	if env.sessions.Active("alpha") {
		t.Fatal("session created despite missing key")
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.requests) != 0 {
		t.Fatal("provider was called despite missing key")
	}
}

func TestSendRejectsUnknownProject(t *testing.T) {
	env := newTestEnv(t, &scriptedClient{}, true)
	if _, _, err := env.runner.Send(SendRequest{ProjectID: "nope", Message: "hi"}); err == nil {
		t.Fatal("Send accepted an unknown project")
	}
	if _, _, err := env.runner.Send(SendRequest{ProjectID: "alpha"}); err == nil {
		t.Fatal("Send accepted an empty message")
	}
}

func TestRequestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := nextRequestID()
		if seen[id] {
			t.Fatalf("duplicate request ID %s", id)
		}
		seen[id] = true
	}
}
