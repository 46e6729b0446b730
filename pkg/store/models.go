package store

import "time"

// GORM models used for persistence. Table and column names are the
// persisted-state contract shared with existing deployments.
type UserModel struct {
	ID        int64      `gorm:"primaryKey;autoIncrement"`
	Username  string     `gorm:"uniqueIndex:idx_users_username;not null"`
	Email     string     `gorm:"uniqueIndex:idx_users_email;not null"`
	Password  string     `gorm:"not null"`
	CreatedAt time.Time  `gorm:"not null"`
	LastLogin *time.Time `gorm:"column:last_login"`
	IsActive  bool       `gorm:"not null;default:true"`
}

func (UserModel) TableName() string { return "users" }

type ConversationModel struct {
	ID        int64      `gorm:"primaryKey;autoIncrement"`
	UserID    int64      `gorm:"not null;index:idx_conversations_user_id"`
	User      *UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	ModelName string     `gorm:"not null"`
	Domain    string     `gorm:"not null"`
	Title     string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ConversationModel) TableName() string { return "conversations" }

type MessageModel struct {
	ID             int64              `gorm:"primaryKey;autoIncrement"`
	ConversationID int64              `gorm:"not null;index:idx_messages_conversation_id"`
	Conversation   *ConversationModel `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
	UserID         int64              `gorm:"not null;index:idx_messages_user_id"`
	User           *UserModel         `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Role           string             `gorm:"not null;check:chk_messages_role,role IN ('user','assistant','system')"`
	Content        string             `gorm:"type:text;not null"`
	InputType      string             `gorm:"default:'text';check:chk_messages_input_type,input_type IN ('text','image','file','code','document')"`
	FilePath       *string
	CreatedAt      time.Time `gorm:"not null;index:idx_messages_created_at"`
}

func (MessageModel) TableName() string { return "messages" }

type UploadedFileModel struct {
	ID             int64              `gorm:"primaryKey;autoIncrement"`
	UserID         int64              `gorm:"not null;index:idx_uploaded_files_user_id"`
	User           *UserModel         `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	ConversationID *int64             `gorm:"index:idx_uploaded_files_conversation_id"`
	Conversation   *ConversationModel `gorm:"foreignKey:ConversationID;constraint:OnDelete:SET NULL"`
	Filename       string             `gorm:"not null"`
	FilePath       string             `gorm:"not null"`
	FileType       string             `gorm:"not null"`
	FileSize       int64
	UploadedAt     time.Time `gorm:"autoCreateTime;not null"`
}

func (UploadedFileModel) TableName() string { return "uploaded_files" }

// PreferenceModel carries no unique constraint on user_id; the store keeps
// one logical row per user (see SavePreferences).
type PreferenceModel struct {
	ID            int64      `gorm:"primaryKey;autoIncrement"`
	UserID        int64      `gorm:"not null;index:idx_user_preferences_user_id"`
	User          *UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Theme         string     `gorm:"default:'light'"`
	Language      string     `gorm:"default:'en'"`
	DefaultModel  string
	DefaultDomain string
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (PreferenceModel) TableName() string { return "user_preferences" }

type ModelUsageStatModel struct {
	ID              int64      `gorm:"primaryKey;autoIncrement"`
	UserID          int64      `gorm:"not null;index:idx_model_usage_user_model,priority:1"`
	User            *UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	ModelName       string     `gorm:"not null;index:idx_model_usage_user_model,priority:2"`
	Domain          string     `gorm:"not null;index:idx_model_usage_user_model,priority:3"`
	RequestCount    int64      `gorm:"not null;default:0"`
	TotalTokens     int64      `gorm:"not null;default:0"`
	AvgResponseTime float64    `gorm:"not null;default:0"`
	LastUsed        time.Time
}

func (ModelUsageStatModel) TableName() string { return "model_usage_stats" }

type FeedbackModel struct {
	ID             int64              `gorm:"primaryKey;autoIncrement"`
	UserID         int64              `gorm:"not null;index:idx_feedback_user_id"`
	User           *UserModel         `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	MessageID      int64              `gorm:"not null;index:idx_feedback_message_id"`
	Message        *MessageModel      `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
	ConversationID int64              `gorm:"not null;index:idx_feedback_conversation_id"`
	Conversation   *ConversationModel `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
	Rating         int                `gorm:"not null;check:chk_feedback_rating,rating >= 1 AND rating <= 5"`
	Comment        string             `gorm:"type:text"`
	CreatedAt      time.Time          `gorm:"not null"`
}

func (FeedbackModel) TableName() string { return "feedback" }

type SessionModel struct {
	ID           int64      `gorm:"primaryKey;autoIncrement"`
	UserID       int64      `gorm:"not null;index:idx_sessions_user_id"`
	User         *UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	SessionToken string     `gorm:"uniqueIndex:idx_sessions_token;not null"`
	CreatedAt    time.Time  `gorm:"not null"`
	ExpiresAt    time.Time  `gorm:"not null;index:idx_sessions_expires_at"`
	IsActive     bool       `gorm:"not null;default:true"`
}

func (SessionModel) TableName() string { return "sessions" }

type ContactSubmissionModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Name        string    `gorm:"not null"`
	Email       string    `gorm:"not null"`
	Subject     string    `gorm:"not null"`
	Message     string    `gorm:"type:text;not null"`
	SubmittedAt time.Time `gorm:"autoCreateTime;not null"`
}

func (ContactSubmissionModel) TableName() string { return "contact_submissions" }

// allModels lists every table in dependency order for migrations.
func allModels() []any {
	return []any{
		&UserModel{},
		&ConversationModel{},
		&MessageModel{},
		&UploadedFileModel{},
		&PreferenceModel{},
		&ModelUsageStatModel{},
		&FeedbackModel{},
		&SessionModel{},
		&ContactSubmissionModel{},
	}
}
