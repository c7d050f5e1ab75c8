package devserver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/khalid-1/antigravity-mobile/internal/broadcast"
	"github.com/khalid-1/antigravity-mobile/internal/logging"
	"github.com/khalid-1/antigravity-mobile/internal/project"
)

// DefaultCommand starts the typical web project dev server.
const DefaultCommand = "npm run dev"

// Status describes the dev server slot of one project.
type Status struct {
	ProjectID string    `json:"projectId"`
	JobID     string    `json:"jobId,omitempty"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	Command   string    `json:"command,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

type job struct {
	id        string
	projectID string
	command   string
	cmd       *exec.Cmd
	startedAt time.Time
}

// Manager runs at most one dev server per project. Output is streamed to
// the event hub; the process is owned here and killed explicitly, never
// by agent loop cancellation.
type Manager struct {
	mu      sync.Mutex
	running map[string]*job
	hub     *broadcast.Hub
}

func NewManager(hub *broadcast.Hub) *Manager {
	return &Manager{running: make(map[string]*job), hub: hub}
}

// Start launches the dev server for a project. A second start while one
// is running is an error.
func (m *Manager) Start(proj project.Project, command string) (Status, error) {
	if command == "" {
		command = DefaultCommand
	}

	m.mu.Lock()
	if existing, ok := m.running[proj.ID]; ok {
		m.mu.Unlock()
		return Status{}, fmt.Errorf("dev server already running for %s (job %s)", proj.ID, existing.id)
	}
	m.mu.Unlock()

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = proj.Path
	cmd.Stdin = nil
	// Own process group so stopping kills the shell's children too,
	// not just the sh wrapper.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Status{}, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Status{}, err
	}
	if err := cmd.Start(); err != nil {
		return Status{}, fmt.Errorf("start dev server: %w", err)
	}

	j := &job{
		id:        uuid.NewString(),
		projectID: proj.ID,
		command:   command,
		cmd:       cmd,
		startedAt: time.Now(),
	}
	m.mu.Lock()
	m.running[proj.ID] = j
	m.mu.Unlock()

	logging.UserLog("devserver: started %q for %s (pid %d)", command, proj.ID, cmd.Process.Pid)
	m.hub.Publish(broadcast.Event{Type: broadcast.TypeDevStarted, ProjectID: proj.ID, Detail: j.id})

	go m.stream(proj.ID, stdout, false)
	go m.stream(proj.ID, stderr, true)
	go func() {
		err := cmd.Wait()
		m.mu.Lock()
		if current, ok := m.running[proj.ID]; ok && current.id == j.id {
			delete(m.running, proj.ID)
		}
		m.mu.Unlock()
		if err != nil {
			logging.DevLog("devserver: %s exited: %v", proj.ID, err)
		}
		m.hub.Publish(broadcast.Event{Type: broadcast.TypeDevStopped, ProjectID: proj.ID, Detail: j.id})
	}()

	return m.statusOf(j), nil
}

// Stop kills the project's dev server, if one is running.
func (m *Manager) Stop(projectID string) error {
	m.mu.Lock()
	j, ok := m.running[projectID]
	m.mu.Unlock()
	if !ok {
		return errors.New("no dev server running for " + projectID)
	}
	logging.UserLog("devserver: stopping %s (pid %d)", projectID, j.cmd.Process.Pid)
	return j.kill()
}

// StatusFor reports the current slot state for a project.
func (m *Manager) StatusFor(projectID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.running[projectID]; ok {
		return m.statusOf(j)
	}
	return Status{ProjectID: projectID, Running: false}
}

// StopAll kills every running dev server. Called on daemon shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	jobs := make([]*job, 0, len(m.running))
	for _, j := range m.running {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()
	for _, j := range jobs {
		j.kill()
	}
}

func (j *job) kill() error {
	if err := syscall.Kill(-j.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return j.cmd.Process.Kill()
	}
	return nil
}

func (m *Manager) statusOf(j *job) Status {
	return Status{
		ProjectID: j.projectID,
		JobID:     j.id,
		Running:   true,
		PID:       j.cmd.Process.Pid,
		Command:   j.command,
		StartedAt: j.startedAt,
	}
}

func (m *Manager) stream(projectID string, r io.Reader, isError bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		m.hub.Publish(broadcast.Event{
			Type:      broadcast.TypeLogLine,
			ProjectID: projectID,
			Line:      scanner.Text(),
			IsError:   isError,
		})
	}
}
