package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/khalid-1/antigravity-mobile/internal/agent"
	"github.com/khalid-1/antigravity-mobile/internal/broadcast"
	"github.com/khalid-1/antigravity-mobile/internal/config"
	"github.com/khalid-1/antigravity-mobile/internal/devserver"
	"github.com/khalid-1/antigravity-mobile/internal/llm"
	"github.com/khalid-1/antigravity-mobile/internal/project"
	"github.com/khalid-1/antigravity-mobile/internal/state"
)

// Server is the HTTP control surface for the daemon: chat, conversation
// history, dev servers, projects, and the SSE event stream.
type Server struct {
	runner     *agent.Runner
	hub        *broadcast.Hub
	projects   *project.Store
	store      *state.Store
	dev        *devserver.Manager
	cfg        config.Config
	cfgPath    string
	logger     *log.Logger
	actualAddr string

	mu           sync.Mutex
	lastProjects string
}

func New(runner *agent.Runner, hub *broadcast.Hub, projects *project.Store, store *state.Store, dev *devserver.Manager, cfg config.Config, cfgPath string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		runner:   runner,
		hub:      hub,
		projects: projects,
		store:    store,
		dev:      dev,
		cfg:      cfg,
		cfgPath:  cfgPath,
		logger:   logger,
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.actualAddr = listener.Addr().String()

	server := &http.Server{
		Addr:    s.actualAddr,
		Handler: s.logRequests(s.auth(s.Handler())),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("control API listening on http://%s", s.actualAddr)
	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/projects", s.handleProjects)
	mux.HandleFunc("POST /api/chat/send", s.handleChatSend)
	mux.HandleFunc("POST /api/chat/stop", s.handleChatStop)
	mux.HandleFunc("POST /api/chat/clear", s.handleChatClear)
	mux.HandleFunc("GET /api/chats", s.handleChats)
	mux.HandleFunc("GET /api/chats/load", s.handleChatLoad)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleChatDelete)
	mux.HandleFunc("GET /api/config", s.handleConfigGet)
	mux.HandleFunc("POST /api/config", s.handleConfigSet)
	mux.HandleFunc("POST /api/dev/start", s.handleDevStart)
	mux.HandleFunc("POST /api/dev/stop", s.handleDevStop)
	mux.HandleFunc("GET /api/dev/status", s.handleDevStatus)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	return mux
}

// auth enforces the bearer control token. An empty configured token
// leaves the API open for local development. The health endpoint always
// answers so load balancers can probe without credentials.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.ControlToken == "" || r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		token := ""
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
		if token == "" {
			// EventSource cannot set headers; the stream accepts the
			// token as a query parameter.
			token = r.URL.Query().Get("token")
		}
		if token != s.cfg.ControlToken {
			s.respondError(w, r, http.StatusUnauthorized, "invalid or missing control token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Printf("[%s] %s %s (%s)", r.RemoteAddr, r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.logger.Printf("[WEB] error status=%d method=%s path=%s remote=%s: %s", status, r.Method, r.URL.Path, r.RemoteAddr, message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("[WEB] encode response: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.List()
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	// Notify stream listeners when the project set changed since the
	// last listing, so other connected clients refresh too.
	names := make([]string, len(projects))
	for i, p := range projects {
		names[i] = p.ID
	}
	snapshot := strings.Join(names, "\x00")
	s.mu.Lock()
	changed := s.lastProjects != "" && s.lastProjects != snapshot
	s.lastProjects = snapshot
	s.mu.Unlock()
	if changed {
		s.hub.Publish(broadcast.Event{Type: broadcast.TypeProjectsChanged})
	}

	s.writeJSON(w, map[string]any{"projects": projects})
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID      string `json:"projectId"`
		ConversationID string `json:"conversationId"`
		Model          string `json:"model"`
		Message        string `json:"message"`
		Attachment     *struct {
			MIMEType string `json:"mimeType"`
			Data     string `json:"data"`
		} `json:"attachment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.respondError(w, r, http.StatusBadRequest, "message is required")
		return
	}
	send := agent.SendRequest{
		ProjectID:      req.ProjectID,
		ConversationID: req.ConversationID,
		ModelID:        req.Model,
		Message:        req.Message,
	}
	if req.Attachment != nil && req.Attachment.Data != "" {
		send.Attachment = &llm.Blob{MIMEType: req.Attachment.MIMEType, Data: req.Attachment.Data}
	}
	requestID, conversationID, err := s.runner.Send(send)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, map[string]string{
		"requestId":      requestID,
		"conversationId": conversationID,
	})
}

func (s *Server) handleChatStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestID string `json:"requestId"`
		ProjectID string `json:"projectId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" {
		s.respondError(w, r, http.StatusBadRequest, "requestId is required")
		return
	}
	s.runner.Stop(req.RequestID, req.ProjectID)
	s.writeJSON(w, map[string]string{"status": "stopping"})
}

func (s *Server) handleChatClear(w http.ResponseWriter, r *http.Request) {
	// An empty projectId clears every session and every ledger.
	var req struct {
		ProjectID string `json:"projectId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid payload")
		return
	}
	s.runner.ClearSession(req.ProjectID)
	s.writeJSON(w, map[string]string{"status": "cleared"})
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.List(r.URL.Query().Get("projectId"))
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"conversations": convs})
}

func (s *Server) handleChatLoad(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.respondError(w, r, http.StatusBadRequest, "id is required")
		return
	}
	conv, err := s.store.Get(id)
	if errors.Is(err, state.ErrNotFound) {
		s.respondError(w, r, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, conv)
}

func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.Delete(id)
	if errors.Is(err, state.ErrNotFound) {
		s.respondError(w, r, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.hub.Publish(broadcast.Event{Type: broadcast.TypeConversationsChanged})
	s.writeJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) handleConfigGet(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"model":         s.cfg.Model,
		"workspaceRoot": s.cfg.WorkspaceRoot,
		"hasApiKey":     s.cfg.GeminiAPIKey != "",
		"apiKey":        maskKey(s.cfg.GeminiAPIKey),
	})
}

func (s *Server) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GeminiAPIKey string `json:"geminiApiKey"`
		Model        string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid payload")
		return
	}
	restartRequired := false
	if key := strings.TrimSpace(req.GeminiAPIKey); key != "" && key != s.cfg.GeminiAPIKey {
		s.cfg.GeminiAPIKey = key
		restartRequired = true
	}
	if model := strings.TrimSpace(req.Model); model != "" {
		s.cfg.Model = model
	}
	if err := config.Save(s.cfg, s.cfgPath); err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"status": "saved", "restartRequired": restartRequired})
}

func (s *Server) handleDevStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"projectId"`
		Command   string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectID == "" {
		s.respondError(w, r, http.StatusBadRequest, "projectId is required")
		return
	}
	proj, _, err := s.projects.Resolve(req.ProjectID)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status, err := s.dev.Start(proj, req.Command)
	if err != nil {
		s.respondError(w, r, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, status)
}

func (s *Server) handleDevStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"projectId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectID == "" {
		s.respondError(w, r, http.StatusBadRequest, "projectId is required")
		return
	}
	if err := s.dev.Stop(req.ProjectID); err != nil {
		s.respondError(w, r, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, map[string]string{"status": "stopping"})
}

func (s *Server) handleDevStatus(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		s.respondError(w, r, http.StatusBadRequest, "projectId is required")
		return
	}
	s.writeJSON(w, s.dev.StatusFor(projectID))
}

// handleEvents streams hub events over SSE until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, cancel := s.hub.Subscribe()
	defer cancel()

	sendEvent := func(event broadcast.Event) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// Initial hello confirms the stream is live before any agent output.
	if err := sendEvent(broadcast.Event{Type: "connected"}); err != nil {
		return
	}

	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			if err := sendEvent(event); err != nil {
				return
			}
		}
	}
}

func maskKey(key string) string {
	if len(key) <= 8 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
