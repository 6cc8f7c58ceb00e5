package models

import "time"

// Event is a photo-sharing event. Its code is the external handle used by
// clients and doubles as the object-store bucket name (lower-cased).
type Event struct {
	ID          int64      `json:"id" db:"id"`
	Code        string     `json:"code" db:"code"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	StartTime   *time.Time `json:"start_time,omitempty" db:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty" db:"end_time"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
