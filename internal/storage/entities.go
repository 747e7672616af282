// Package storage holds the persisted entities and the errors shared by the
// SQL store implementations.
package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
	ErrNotGroup = errors.New("conversation is not a group")
)

// PayloadTag tells clients how to render a message body.
type PayloadTag string

const (
	TagText  PayloadTag = "text"
	TagCode  PayloadTag = "code"
	TagImage PayloadTag = "image"
)

// Valid reports whether t is one of the known tags.
func (t PayloadTag) Valid() bool {
	switch t {
	case TagText, TagCode, TagImage:
		return true
	}
	return false
}

type User struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Avatar       string     `json:"avatar"`
	LastActive   *time.Time `json:"last_active,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsSystem reports whether u is a reserved account. Those have no password
// hash and cannot log in.
func (u User) IsSystem() bool { return u.PasswordHash == "" }

// Profile is the public part of a user embedded in messages and conversations.
type Profile struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

func (u User) Profile() Profile {
	return Profile{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

type Participant struct {
	Profile
	IsAdmin bool `json:"is_admin"`
}

type Conversation struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name,omitempty"`
	IsGroup         bool          `json:"is_group"`
	Participants    []Participant `json:"participants"`
	LatestMessageID *int64        `json:"latest_message_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// HasParticipant reports whether userID is a member of c.
func (c Conversation) HasParticipant(userID int64) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether userID administers c.
func (c Conversation) IsAdmin(userID int64) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return p.IsAdmin
		}
	}
	return false
}

type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	SenderID       int64      `json:"sender_id"`
	Body           string     `json:"content"`
	Tag            PayloadTag `json:"type"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewMessage is the input of a message write. CreatedAt is assigned by the server.
type NewMessage struct {
	ConversationID int64
	SenderID       int64
	Body           string
	Tag            PayloadTag
	CreatedAt      time.Time
}

// SystemUser describes a reserved account created on first use.
type SystemUser struct {
	Email  string
	Name   string
	Avatar string
}
