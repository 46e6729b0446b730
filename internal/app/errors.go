package app

import "errors"

var (
	// ErrInvalidCredentials is returned when the supplied credentials do not match.
	// The message is safe to show to end users and does not reveal which part was wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrUserDisabled is returned when a deactivated account tries to log in.
	ErrUserDisabled = errors.New("user disabled")

	ErrUserNotFound = errors.New("user not found")

	ErrRegistrationFieldsRequired = errors.New("username, email and password required")
	ErrInvalidUsername            = errors.New("username must be 3-80 characters of letters, digits, '.', '-' or '_'")
	ErrInvalidEmail               = errors.New("invalid email address")
	ErrUserExists                 = errors.New("username or email already exists")
	ErrTooManyAttempts            = errors.New("too many login attempts, try again later")
	ErrInvalidSession             = errors.New("invalid or expired session")

	ErrUnknownDomain         = errors.New("unknown domain")
	ErrModelNotAllowed       = errors.New("model not available for domain")
	ErrEmptyMessage          = errors.New("message content required")
	ErrInvalidRole           = errors.New("invalid message role")
	ErrInvalidInputType      = errors.New("invalid input type")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrMessageNotFound       = errors.New("message not found")
	ErrFileNotFound          = errors.New("file not found")
	ErrInvalidTitle          = errors.New("conversation title required")
	ErrFileTypeNotAllowed    = errors.New("file type not allowed")
	ErrFileTooLarge          = errors.New("file exceeds maximum upload size")
	ErrInvalidFilename       = errors.New("invalid file name")
	ErrInvalidFileSize       = errors.New("invalid file size")
	ErrInvalidRating         = errors.New("rating must be between 1 and 5")
	ErrContactFieldsRequired = errors.New("name, email, subject and message required")
	ErrInvalidUsageEvent     = errors.New("usage event requires model, domain and non-negative measurements")
	ErrQueueNotConfigured    = errors.New("usage queue not configured")
)
