package session

import (
	"time"

	"github.com/loqalabs/narrator-core/internal/narrative"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

type AudioStatus string

const (
	AudioNone    AudioStatus = "none"
	AudioPending AudioStatus = "pending"
	AudioReady   AudioStatus = "ready"
	AudioFailed  AudioStatus = "failed"
)

// FallbackMessage is shown when a failure carries no message of its own.
const FallbackMessage = "Failed to generate content. Please try again."

type ErrorInfo struct {
	Message string `json:"message"`
}

type AudioState struct {
	Status   AudioStatus `json:"status"`
	HandleID string      `json:"handle_id,omitempty"`
	URL      string      `json:"url,omitempty"`
	Local    bool        `json:"local,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Snapshot is a copy of a controller's observable state. Result is the last
// successful narrative and survives later failures.
type Snapshot struct {
	SessionID string             `json:"session_id"`
	Sequence  uint64             `json:"sequence"`
	Status    Status             `json:"status"`
	Persona   *narrative.Persona `json:"persona,omitempty"`
	Locale    narrative.Locale   `json:"locale"`
	Result    *narrative.Result  `json:"result,omitempty"`
	Error     *ErrorInfo         `json:"error,omitempty"`
	Audio     AudioState         `json:"audio"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type ChangeKind string

const (
	ChangeSubmitted    ChangeKind = "submitted"
	ChangeSucceeded    ChangeKind = "succeeded"
	ChangeFailed       ChangeKind = "failed"
	ChangeDismissed    ChangeKind = "dismissed"
	ChangeAudioPending ChangeKind = "audio_pending"
	ChangeAudioReady   ChangeKind = "audio_ready"
	ChangeAudioFailed  ChangeKind = "audio_failed"
	ChangeAudioStopped ChangeKind = "audio_stopped"
	// ChangeSnapshot opens a change stream with the state at subscribe time.
	ChangeSnapshot ChangeKind = "snapshot"
)

// Change is published after every state transition.
type Change struct {
	Kind     ChangeKind `json:"kind"`
	Snapshot Snapshot   `json:"snapshot"`
}

// AudioErrorMessage renders a speech failure for the audio widget.
func AudioErrorMessage(loc narrative.Locale, err error) string {
	if loc == narrative.LocaleArabic {
		return "فشل في إنشاء الصوت: " + err.Error()
	}
	return "Failed to generate audio: " + err.Error()
}
