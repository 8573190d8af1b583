// Package status tracks per-client pipeline progress in Redis and defines
// the RabbitMQ progress check messages.
package status

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State is the coarse progress of one client's postcard set.
type State string

const (
	StateQueued     State = "queued"
	StateDispatched State = "dispatched"
	StateStoring    State = "storing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateNotFound   State = "not_found"
)

const (
	fieldClientID     = "client_id"
	fieldState        = "state"
	fieldExpected     = "expected_images"
	fieldStored       = "stored_images"
	fieldUpdatedAt    = "updated_at"
	fieldMessage      = "message"
	fieldErrorCode    = "error_code"
	fieldErrorMessage = "error_message"
)

// Key returns the Redis hash key holding a client's status.
func Key(clientID string) string {
	return fmt.Sprintf("postcard:%s:status", clientID)
}

// Snapshot is one read of a client's status hash.
type Snapshot struct {
	ClientID       string
	State          State
	ExpectedImages int
	StoredImages   int
	Message        string
	UpdatedAt      time.Time
	ErrorCode      string
	ErrorMessage   string
}

// ProgressPercent is stored/expected bounded to [0,100]. A client whose
// expected count is unknown reports 0, or 100 once completed.
func (s Snapshot) ProgressPercent() int {
	if s.ExpectedImages <= 0 {
		if s.State == StateCompleted {
			return 100
		}
		return 0
	}
	pct := s.StoredImages * 100 / s.ExpectedImages
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// snapshotFromHash projects a raw hash into a Snapshot. Unparseable
// counters read as zero. Once images are stored, the progress state comes
// from the counters rather than the written state field, since the counter
// increments and the state writes of concurrent stages are not one atomic
// step. Failed and queued states are kept as written.
func snapshotFromHash(clientID string, values map[string]string) Snapshot {
	s := Snapshot{
		ClientID:       clientID,
		State:          State(strings.ToLower(strings.TrimSpace(values[fieldState]))),
		ExpectedImages: parseCount(values[fieldExpected]),
		StoredImages:   parseCount(values[fieldStored]),
		Message:        strings.TrimSpace(values[fieldMessage]),
		ErrorCode:      strings.TrimSpace(values[fieldErrorCode]),
		ErrorMessage:   strings.TrimSpace(values[fieldErrorMessage]),
	}
	if s.State == "" {
		s.State = StateNotFound
	}
	switch s.State {
	case StateDispatched, StateStoring, StateCompleted:
		if s.StoredImages > 0 {
			if derived := storedState(s.StoredImages, s.ExpectedImages); derived != s.State {
				s.State = derived
				s.Message = storedMessage(s.StoredImages, s.ExpectedImages)
			}
		}
	}
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(values[fieldUpdatedAt])); err == nil {
		s.UpdatedAt = ts
	}
	return s
}

// storedState derives the state after a store from the two counters.
func storedState(stored, expected int) State {
	if expected > 0 && stored >= expected {
		return StateCompleted
	}
	return StateStoring
}

// storedMessage describes progress after a store.
func storedMessage(stored, expected int) string {
	if storedState(stored, expected) == StateCompleted {
		return "all postcards stored"
	}
	return "storing postcards " + strconv.Itoa(stored) + "/" + strconv.Itoa(expected)
}

func parseCount(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		return 0
	}
	return value
}
