package synth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal state machine of one session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Session tracks one request's synthesis state. Never shared across
// requests; all mutation goes through the owning service.
type Session struct {
	ID        string
	Request   Request
	StartedAt time.Time

	mu       sync.Mutex
	status   Status
	frames   int
	pcmBytes int64
	err      error
	finished time.Time
}

func newSession(req Request) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Request:   req,
		StartedAt: time.Now().UTC(),
		status:    StatusRunning,
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *Session) PCMBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pcmBytes
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.finished.Sub(s.StartedAt)
}

func (s *Session) addFrame(bytes int) {
	s.mu.Lock()
	s.frames++
	s.pcmBytes += int64(bytes)
	s.mu.Unlock()
}

func (s *Session) finish(status Status, err error) {
	s.mu.Lock()
	if s.status == StatusRunning {
		s.status = status
		s.err = err
		s.finished = time.Now().UTC()
	}
	s.mu.Unlock()
}
