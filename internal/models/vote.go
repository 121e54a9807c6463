package models

import (
	"time"

	"github.com/google/uuid"
)

// VoteKind is the poll category. It decides the option shape and which event
// field a closed poll writes its winner to.
type VoteKind string

const (
	VoteKindGeneral  VoteKind = "general"
	VoteKindLocation VoteKind = "location"
	VoteKindTime     VoteKind = "time"
)

// Valid reports whether k is one of the known kinds.
func (k VoteKind) Valid() bool {
	switch k {
	case VoteKindGeneral, VoteKindLocation, VoteKindTime:
		return true
	}
	return false
}

// Vote is the descriptor of one poll attached to an event.
type Vote struct {
	ID        uuid.UUID  `json:"id"`
	EventID   uuid.UUID  `json:"event_id"`
	Kind      VoteKind   `json:"kind"`
	Question  string     `json:"question"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ClosedAt reports whether the poll is closed at now. A poll without a
// deadline never closes on its own.
func (v *Vote) ClosedAt(now time.Time) bool {
	return v.Deadline != nil && !v.Deadline.After(now)
}

// VoteOption is one selectable choice. For time polls Text holds the
// "YYYY-MM-DD|HH:MM|HH:MM" encoding.
type VoteOption struct {
	ID        uuid.UUID `json:"id"`
	VoteID    uuid.UUID `json:"vote_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Ballot is one user's choice on a poll (user_votes). At most one per user per vote.
type Ballot struct {
	ID           uuid.UUID `json:"id"`
	VoteID       uuid.UUID `json:"vote_id"`
	VoteOptionID uuid.UUID `json:"vote_option_id"`
	UserID       uuid.UUID `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
}
