package protocol

import "time"

// SessionEvent announces synthesis lifecycle transitions on the bus.
type SessionEvent struct {
	SessionID  string    `json:"session_id"`
	Voice      string    `json:"voice"`
	Status     string    `json:"status"`
	Frames     int       `json:"frames"`
	PCMBytes   int64     `json:"pcm_bytes"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AnnounceMessage advertises a TTS node and its voices.
type AnnounceMessage struct {
	NodeID     string    `json:"node_id"`
	Role       string    `json:"role"`
	Voices     []string  `json:"voices"`
	SampleRate int       `json:"sample_rate"`
	Timestamp  time.Time `json:"timestamp"`
}

// HeartbeatMessage keeps a node marked healthy in peer registries.
type HeartbeatMessage struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSessionStarted   = "tts.session.started"
	SubjectSessionCompleted = "tts.session.completed"
	SubjectSessionFailed    = "tts.session.failed"

	SubjectNodeAnnounce        = "ctrl.node.announce"
	SubjectNodeHeartbeatPrefix = "ctrl.node.heartbeat"
)
