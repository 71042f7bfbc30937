package store

import (
	"time"

	"plate/api/internal/model"
)

// User is the stored account record. Only Profile() leaves the server.
type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	TeamID                string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (u User) Profile() model.UserProfile {
	return model.UserProfile{
		ID:              u.ID,
		DisplayName:     u.DisplayName,
		Email:           u.Email,
		TeamID:          u.TeamID,
		Role:            u.Role,
		IsEmailVerified: u.IsEmailVerified,
		CreatedAt:       u.CreatedAt,
	}
}

// ItemMove is the outcome of relocating a card. Changed lists every card
// whose header or position was rewritten, the moved card included.
type ItemMove struct {
	Item         model.PlateItem
	FromHeaderID string
	Changed      []model.PlateItem
}

// PlateMove is the outcome of relocating a plate between or within platters.
type PlateMove struct {
	Plate         model.Plate
	FromPlatterID string
	Changed       []model.Plate
}

type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
}
