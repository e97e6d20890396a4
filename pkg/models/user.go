package models

import "time"

// UserStatus is the lifecycle state of a user account.
type UserStatus string

const (
	StatusActive    UserStatus = "active"
	StatusInactive  UserStatus = "inactive"
	StatusSuspended UserStatus = "suspended"
	StatusPending   UserStatus = "pending"
)

// Valid reports whether s is one of the known statuses.
func (s UserStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusPending:
		return true
	}
	return false
}

// User represents a user in the system. Version is incremented by the store
// on every successful write and drives optimistic-concurrency checks.
type User struct {
	ID        string       `json:"id" db:"id"`
	Name      string       `json:"name" db:"name" binding:"required"`
	Email     string       `json:"email" db:"email" binding:"required,email"`
	Age       int          `json:"age" db:"age"`
	Status    UserStatus   `json:"status" db:"status"`
	Tags      []string     `json:"tags,omitempty" db:"tags"`
	Profile   *UserProfile `json:"profile,omitempty" db:"profile"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
	Version   int64        `json:"version" db:"version"`
}

// UserProfile is an optional nested value object stored alongside the user.
type UserProfile struct {
	Bio         string       `json:"bio,omitempty"`
	AvatarURL   string       `json:"avatar_url,omitempty"`
	Address     *Address     `json:"address,omitempty"`
	SocialLinks []SocialLink `json:"social_links,omitempty"`
}

// Address is a plain value record.
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Country string `json:"country,omitempty"`
}

// SocialLink is a plain value record.
type SocialLink struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

// CreateUserRequest is the request body for creating a user.
type CreateUserRequest struct {
	Name    string       `json:"name" binding:"required" example:"John Doe"`
	Email   string       `json:"email" binding:"required,email" example:"john@example.com"`
	Age     int          `json:"age" binding:"omitempty,gte=0" example:"30"`
	Status  UserStatus   `json:"status,omitempty"`
	Tags    []string     `json:"tags,omitempty"`
	Profile *UserProfile `json:"profile,omitempty"`
}

// UpdateUserRequest is the request body for updating a user. Nil/empty fields
// are left unchanged; Version must carry the caller's last observed version.
type UpdateUserRequest struct {
	Name    string       `json:"name,omitempty"`
	Email   string       `json:"email,omitempty" binding:"omitempty,email"`
	Age     *int         `json:"age,omitempty"`
	Status  UserStatus   `json:"status,omitempty"`
	Tags    []string     `json:"tags,omitempty"`
	Profile *UserProfile `json:"profile,omitempty"`
	Version int64        `json:"version" binding:"required"`
}

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	Status UserStatus
	Offset int
	Limit  int
}
