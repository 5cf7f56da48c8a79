package sqlite

import (
	"fmt"
	"time"

	"github.com/asakaida/kizuna/internal/entities"
)

type edgeModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"column:user_id;not null"`
	FriendID  string `gorm:"column:friend_id;not null"`
	Status    string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (edgeModel) TableName() string { return "friends" }

func (m *edgeModel) toEntity() (*entities.Edge, error) {
	status := entities.EdgeStatus(m.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("edge %s has unknown status %q", m.ID, m.Status)
	}
	return &entities.Edge{
		ID:        m.ID,
		FromUser:  m.UserID,
		ToUser:    m.FriendID,
		Status:    status,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

type profileModel struct {
	ID       string `gorm:"primaryKey"`
	Username string `gorm:"not null"`
	// UsernameFolded holds strings.ToLower(Username); SQLite's lower() only folds ASCII.
	UsernameFolded string `gorm:"column:username_folded;not null;default:''"`
	AvatarURL      string `gorm:"column:avatar_url;not null;default:''"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (profileModel) TableName() string { return "profiles" }

func (m *profileModel) toEntity() *entities.Profile {
	return &entities.Profile{ID: m.ID, Username: m.Username, AvatarURL: m.AvatarURL}
}
