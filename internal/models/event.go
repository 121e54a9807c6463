package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is the parent record a poll belongs to. Location, Date and Time may be
// filled in by the voting core when a location or time poll closes.
type Event struct {
	ID        uuid.UUID `json:"id"`
	CreatorID uuid.UUID `json:"creator_id"`
	Title     string    `json:"title"`
	Location  string    `json:"location"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Time      string    `json:"time"` // HH:MM-HH:MM
	CreatedAt time.Time `json:"created_at"`
}
