package protocol

import (
	"strings"
	"time"

	"github.com/loqalabs/narrator-core/internal/narrative"
	"github.com/loqalabs/narrator-core/internal/session"
)

// SubmitRequest asks a session to generate a narrative for a persona.
type SubmitRequest struct {
	SessionID string            `json:"session_id"`
	Persona   narrative.Persona `json:"persona"`
	Locale    string            `json:"locale,omitempty"`
}

// SubmitReply acknowledges a submission. Sequence identifies it in later
// state messages; Error is set when the request was rejected.
type SubmitReply struct {
	SessionID string `json:"session_id"`
	Sequence  uint64 `json:"sequence,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SessionCommand addresses dismiss and audio-stop requests.
type SessionCommand struct {
	SessionID string `json:"session_id"`
}

// StateMessage is broadcast after every state transition of a session.
type StateMessage struct {
	Kind     session.ChangeKind `json:"kind"`
	Snapshot session.Snapshot   `json:"snapshot"`
}

const (
	SubjectSubmit      = "narrator.submit"
	SubjectDismiss     = "narrator.dismiss"
	SubjectAudioStop   = "narrator.audio.stop"
	SubjectStatePrefix = "narrator.state"

	SubjectNodeAnnounce        = "narrator.node.announce"
	SubjectNodeHeartbeatPrefix = "narrator.node.heartbeat"
)

// Backend names one pluggable dependency of a node and the mode it runs in.
type Backend struct {
	Name       string            `json:"name"`
	Mode       string            `json:"mode"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NodeAnnouncement is published when a node starts and whenever a peer
// needs to learn about it.
type NodeAnnouncement struct {
	NodeID    string    `json:"node_id"`
	Version   string    `json:"version,omitempty"`
	Backends  []Backend `json:"backends"`
	Timestamp time.Time `json:"timestamp"`
}

type NodeHeartbeat struct {
	NodeID    string    `json:"node_id"`
	Sessions  int       `json:"sessions"`
	Timestamp time.Time `json:"timestamp"`
}

func HeartbeatSubject(nodeID string) string {
	return SubjectNodeHeartbeatPrefix + "." + nodeID
}

// StateSubject is the subject carrying state for sessionID.
func StateSubject(sessionID string) string {
	return SubjectStatePrefix + "." + sessionID
}

// ValidSessionID reports whether id can be used as a single subject token.
func ValidSessionID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	return !strings.ContainsAny(id, ".*> \t\r\n")
}
