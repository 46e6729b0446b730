package store

import (
	"time"

	"multillm/pkg/domain"
)

// Store defines persistence operations for the chat platform schema.
type Store interface {
	// users
	CreateUser(domain.User) (domain.User, error)
	GetUserByID(id int64) (domain.User, bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	SetUserActive(id int64, active bool) error
	UpdatePassword(id int64, passwordHash string) error
	DeleteUser(id int64) error

	// conversations
	CreateConversation(domain.Conversation) (domain.Conversation, error)
	StartConversation(domain.Conversation, domain.Message) (domain.Conversation, domain.Message, error)
	GetConversation(id int64) (domain.Conversation, bool, error)
	ListConversationSummaries(userID int64, limit int) ([]domain.ConversationSummary, error)
	RenameConversation(id int64, title string) error
	DeleteConversation(id int64) error

	// messages
	AppendMessage(domain.Message) (domain.Message, error)
	GetMessage(id int64) (domain.Message, bool, error)
	ListMessages(conversationID int64, limit int) ([]domain.Message, error)

	// files
	RecordUploadedFile(domain.UploadedFile) (domain.UploadedFile, error)
	GetUploadedFile(id int64) (domain.UploadedFile, bool, error)
	ListUploadedFiles(userID int64) ([]domain.UploadedFile, error)
	ListConversationFiles(conversationID int64) ([]domain.UploadedFile, error)
	DeleteUploadedFile(id int64) error

	// preferences
	GetPreferences(userID int64) (domain.Preferences, bool, error)
	SavePreferences(domain.Preferences) (domain.Preferences, error)

	// usage
	RecordModelUsage(domain.UsageEvent) (domain.ModelUsage, error)
	ListModelUsage(userID int64) ([]domain.ModelUsage, error)

	// feedback
	CreateFeedback(domain.Feedback) (domain.Feedback, error)
	ListFeedbackForMessage(messageID int64) ([]domain.Feedback, error)

	// sessions
	CreateSession(domain.Session) (domain.Session, error)
	GetSessionByToken(token string) (domain.Session, bool, error)
	ListActiveSessions(userID int64) ([]domain.Session, error)
	DeactivateSession(token string) error
	DeactivateUserSessions(userID int64) (int64, error)
	ExpireSessions(now time.Time) (int64, error)

	// contact
	SaveContactSubmission(domain.ContactSubmission) (domain.ContactSubmission, error)
	ListContactSubmissions(limit int) ([]domain.ContactSubmission, error)
}

// SessionCache maps session tokens to user IDs in front of the sessions table.
type SessionCache interface {
	Put(token string, userID int64, ttl time.Duration) error
	Get(token string) (int64, bool, error)
	Delete(token string) error
}
