package domain

import (
	"strings"
	"time"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether r is one of the roles the messages table accepts.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

type InputType string

const (
	InputText     InputType = "text"
	InputImage    InputType = "image"
	InputFile     InputType = "file"
	InputCode     InputType = "code"
	InputDocument InputType = "document"
)

// Valid reports whether t is one of the input types the messages table accepts.
func (t InputType) Valid() bool {
	switch t {
	case InputText, InputImage, InputFile, InputCode, InputDocument:
		return true
	}
	return false
}

const (
	MinRating = 1
	MaxRating = 5
)

// ValidRating reports whether rating is within the feedback bounds.
func ValidRating(rating int) bool {
	return rating >= MinRating && rating <= MaxRating
}

const (
	DefaultTheme    = "light"
	DefaultLanguage = "en"
)

type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	IsActive     bool       `json:"isActive"`
}

type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	ModelName string    `json:"modelName"`
	Domain    string    `json:"domain"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationSummary is a history row: a conversation plus its message count.
type ConversationSummary struct {
	Conversation
	MessageCount int64 `json:"messageCount"`
}

type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversationId"`
	UserID         int64       `json:"userId"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	InputType      InputType   `json:"inputType"`
	FilePath       string      `json:"filePath,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

type UploadedFile struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"userId"`
	// ConversationID is nil when the file was never attached or its
	// conversation has been deleted.
	ConversationID *int64    `json:"conversationId,omitempty"`
	Filename       string    `json:"filename"`
	FilePath       string    `json:"filePath"`
	FileType       string    `json:"fileType"`
	FileSize       int64     `json:"fileSize"`
	UploadedAt     time.Time `json:"uploadedAt"`
}

type Preferences struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"userId"`
	Theme         string    `json:"theme"`
	Language      string    `json:"language"`
	DefaultModel  string    `json:"defaultModel,omitempty"`
	DefaultDomain string    `json:"defaultDomain,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// DefaultPreferences returns the values a fresh preferences row carries.
func DefaultPreferences(userID int64) Preferences {
	return Preferences{
		UserID:   userID,
		Theme:    DefaultTheme,
		Language: DefaultLanguage,
	}
}

type ModelUsage struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"userId"`
	ModelName       string    `json:"modelName"`
	Domain          string    `json:"domain"`
	RequestCount    int64     `json:"requestCount"`
	TotalTokens     int64     `json:"totalTokens"`
	AvgResponseTime float64   `json:"avgResponseTime"`
	LastUsed        time.Time `json:"lastUsed"`
}

// UsageEvent is one model request to fold into ModelUsage aggregates.
type UsageEvent struct {
	UserID       int64         `json:"userId"`
	ModelName    string        `json:"modelName"`
	Domain       string        `json:"domain"`
	Tokens       int64         `json:"tokens"`
	ResponseTime time.Duration `json:"responseTime"`
	At           time.Time     `json:"at"`
}

type Feedback struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"userId"`
	MessageID      int64     `json:"messageId"`
	ConversationID int64     `json:"conversationId"`
	Rating         int       `json:"rating"`
	Comment        string    `json:"comment,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Session struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsActive  bool      `json:"isActive"`
}

// Live reports whether the session is active and unexpired at now.
func (s Session) Live(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

type ContactSubmission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Subject     string    `json:"subject"`
	Message     string    `json:"message"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
