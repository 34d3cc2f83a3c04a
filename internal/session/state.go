package session

import (
	"time"

	"github.com/MrWong99/readaloud/pkg/types"
)

// Phase is the coarse state of the reading session.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePlaying Phase = "playing"
	PhasePaused  Phase = "paused"
)

// Status texts shown to the user.
const (
	StatusReady         = "ready"
	StatusReading       = "reading"
	StatusPaused        = "paused"
	StatusTurningPage   = "turning page"
	StatusFinished      = "finished"
	StatusStopped       = "stopped"
	StatusNothingToRead = "nothing to read"
	StatusPageTurnFail  = "could not load next page"
	StatusLanguageSwap  = "stopped: language changed"
	StatusSleepExpired  = "sleep timer expired"
)

// State is a snapshot of everything a UI needs to render the session. It is
// a value: callers get copies and never see it change underneath them.
type State struct {
	SessionID    string         `json:"session_id,omitempty"`
	Phase        Phase          `json:"phase"`
	Language     types.Language `json:"language"`
	AutoPageTurn bool           `json:"auto_page_turn"`

	// ReadingPage is the 1-based page being read, 0 when the text did not
	// come from a page source.
	ReadingPage int `json:"reading_page"`

	SegmentIndex  int     `json:"segment_index"`
	TotalSegments int     `json:"total_segments"`
	Progress      float64 `json:"progress"`
	CurrentText   string  `json:"current_text"`

	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
	Skipped   int    `json:"skipped"`

	SleepDeadline time.Time `json:"sleep_deadline,omitzero"`
}

// IsPlaying reports whether a session is active, paused or not.
func (s State) IsPlaying() bool { return s.Phase == PhasePlaying || s.Phase == PhasePaused }

// IsPaused reports whether the active session is paused.
func (s State) IsPaused() bool { return s.Phase == PhasePaused }

// EventKind names a session event.
type EventKind string

const (
	EventSegmentStarted EventKind = "segment_started"
	EventSegmentPlayed  EventKind = "segment_played"
	EventSegmentSkipped EventKind = "segment_skipped"
	EventPlaybackFailed EventKind = "playback_failed"
	EventPageTurned     EventKind = "page_turned"
	EventPageTurnFailed EventKind = "page_turn_failed"
	EventFinished       EventKind = "finished"
	EventStopped        EventKind = "stopped"
)

// Event records one step of a session. Handlers registered with
// [WithEventHandler] receive every event in order.
type Event struct {
	Kind      EventKind
	SessionID string
	Page      int
	Index     int
	Total     int
	Text      string
	Status    string
	Err       error
	Time      time.Time
}
