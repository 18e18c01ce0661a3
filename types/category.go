package types

import "github.com/google/uuid"

// Category is a uniquely named label posts can be grouped under.
type Category struct {
	ID   uuid.UUID `json:"id" db:"id"`
	Name string    `json:"name" db:"name"`
}
