package models

import "github.com/google/uuid"

// User is the directory projection of an account: what other features
// (messages, polls, presence) are allowed to see. Accounts themselves
// are owned by the external identity service; this service only reads
// the directory view.
type User struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	Status      string    `json:"status,omitempty"`
}
