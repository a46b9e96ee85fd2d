package domain

import "time"

// User is an account known to the identity provider. The password hash is
// never serialized.
type User struct {
	ID           string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Email        string    `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	PasswordHash string    `json:"-"          gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Identity returns the public view of the user.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Email: u.Email}
}

// Identity is the authenticated user as seen by clients.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
