package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"multillm/internal/util"
	"multillm/pkg/domain"
	"multillm/pkg/store"
)

const titleMaxRunes = 50

var allowedUploadTypes = map[string]struct{}{
	"txt": {}, "pdf": {}, "png": {}, "jpg": {}, "jpeg": {}, "gif": {},
	"csv": {}, "py": {}, "js": {}, "html": {}, "css": {}, "doc": {}, "docx": {},
}

// StartConversation opens a conversation for a catalog domain/model pair and
// stores firstMessage as its opening user message.
func (a *App) StartConversation(userID int64, domainKey, model, firstMessage string) (domain.Conversation, domain.Message, error) {
	domainKey = strings.TrimSpace(domainKey)
	model = strings.TrimSpace(model)
	if _, ok := a.catalog.Domain(domainKey); !ok {
		return domain.Conversation{}, domain.Message{}, ErrUnknownDomain
	}
	if !a.catalog.Allows(domainKey, model) {
		return domain.Conversation{}, domain.Message{}, ErrModelNotAllowed
	}
	if strings.TrimSpace(firstMessage) == "" {
		return domain.Conversation{}, domain.Message{}, ErrEmptyMessage
	}

	conv, msg, err := a.store.StartConversation(domain.Conversation{
		UserID:    userID,
		ModelName: model,
		Domain:    domainKey,
		Title:     conversationTitle(firstMessage),
	}, domain.Message{
		UserID:    userID,
		Role:      domain.RoleUser,
		Content:   firstMessage,
		InputType: domain.InputText,
	})
	if err != nil {
		if errors.Is(err, store.ErrForeignKey) {
			return domain.Conversation{}, domain.Message{}, ErrUserNotFound
		}
		return domain.Conversation{}, domain.Message{}, fmt.Errorf("start conversation: %w", err)
	}
	return conv, msg, nil
}

// PostMessage appends a message to a conversation owned by userID.
func (a *App) PostMessage(userID, conversationID int64, role domain.MessageRole, content string, inputType domain.InputType, filePath string) (domain.Message, error) {
	if !role.Valid() {
		return domain.Message{}, ErrInvalidRole
	}
	if inputType == "" {
		inputType = domain.InputText
	}
	if !inputType.Valid() {
		return domain.Message{}, ErrInvalidInputType
	}
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	if _, err := a.ownedConversation(userID, conversationID); err != nil {
		return domain.Message{}, err
	}
	msg, err := a.store.AppendMessage(domain.Message{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		InputType:      inputType,
		FilePath:       strings.TrimSpace(filePath),
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// History lists the user's conversations, most recently active first.
func (a *App) History(userID int64) ([]domain.ConversationSummary, error) {
	out, err := a.store.ListConversationSummaries(userID, 0)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// Conversation returns a conversation owned by userID and its messages in order.
func (a *App) Conversation(userID, conversationID int64) (domain.Conversation, []domain.Message, error) {
	conv, err := a.ownedConversation(userID, conversationID)
	if err != nil {
		return domain.Conversation{}, nil, err
	}
	msgs, err := a.store.ListMessages(conversationID, 0)
	if err != nil {
		return domain.Conversation{}, nil, fmt.Errorf("list messages: %w", err)
	}
	return conv, msgs, nil
}

func (a *App) RenameConversation(userID, conversationID int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > 200 {
		return ErrInvalidTitle
	}
	if _, err := a.ownedConversation(userID, conversationID); err != nil {
		return err
	}
	if err := a.store.RenameConversation(conversationID, title); err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes the conversation with its messages and feedback.
// Uploaded files stay with the user and lose their conversation link.
func (a *App) DeleteConversation(userID, conversationID int64) error {
	if _, err := a.ownedConversation(userID, conversationID); err != nil {
		return err
	}
	if err := a.store.DeleteConversation(conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// RegisterUpload validates an upload and records its metadata row.
// conversationID may be nil for files not attached to a conversation.
func (a *App) RegisterUpload(userID int64, conversationID *int64, originalName string, size int64) (domain.UploadedFile, error) {
	originalName = strings.TrimSpace(originalName)
	ext := util.FileExtension(originalName)
	if _, ok := allowedUploadTypes[ext]; !ok {
		return domain.UploadedFile{}, ErrFileTypeNotAllowed
	}
	if size < 0 {
		return domain.UploadedFile{}, ErrInvalidFileSize
	}
	if size > a.maxUploadBytes {
		return domain.UploadedFile{}, ErrFileTooLarge
	}
	safe := util.SecureFilename(originalName)
	if safe == "" || util.FileExtension(safe) != ext {
		return domain.UploadedFile{}, ErrInvalidFilename
	}
	if conversationID != nil {
		if _, err := a.ownedConversation(userID, *conversationID); err != nil {
			return domain.UploadedFile{}, err
		}
	}

	stored := fmt.Sprintf("%d_%s_%s", userID, a.now().Format("20060102_150405"), safe)
	file, err := a.store.RecordUploadedFile(domain.UploadedFile{
		UserID:         userID,
		ConversationID: conversationID,
		Filename:       originalName,
		FilePath:       filepath.Join(a.uploadDir, stored),
		FileType:       ext,
		FileSize:       size,
	})
	if err != nil {
		if errors.Is(err, store.ErrForeignKey) {
			return domain.UploadedFile{}, ErrUserNotFound
		}
		return domain.UploadedFile{}, fmt.Errorf("record upload: %w", err)
	}
	return file, nil
}

// Uploads lists the user's uploaded files, newest first.
func (a *App) Uploads(userID int64) ([]domain.UploadedFile, error) {
	files, err := a.store.ListUploadedFiles(userID)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return files, nil
}

// DeleteUpload removes one of the user's upload records.
func (a *App) DeleteUpload(userID, fileID int64) error {
	f, ok, err := a.store.GetUploadedFile(fileID)
	if err != nil {
		return fmt.Errorf("get upload: %w", err)
	}
	if !ok || f.UserID != userID {
		return ErrFileNotFound
	}
	if err := a.store.DeleteUploadedFile(fileID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrFileNotFound
		}
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}

// SubmitFeedback rates a message in one of the user's conversations.
func (a *App) SubmitFeedback(userID, messageID int64, rating int, comment string) (domain.Feedback, error) {
	if !domain.ValidRating(rating) {
		return domain.Feedback{}, ErrInvalidRating
	}
	msg, found, err := a.store.GetMessage(messageID)
	if err != nil {
		return domain.Feedback{}, fmt.Errorf("lookup message: %w", err)
	}
	if !found {
		return domain.Feedback{}, ErrMessageNotFound
	}
	if _, err := a.ownedConversation(userID, msg.ConversationID); err != nil {
		return domain.Feedback{}, ErrMessageNotFound
	}
	fb, err := a.store.CreateFeedback(domain.Feedback{
		UserID:         userID,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Rating:         rating,
		Comment:        strings.TrimSpace(comment),
	})
	if err != nil {
		return domain.Feedback{}, fmt.Errorf("create feedback: %w", err)
	}
	return fb, nil
}

// ownedConversation hides conversations of other users behind ErrConversationNotFound.
func (a *App) ownedConversation(userID, conversationID int64) (domain.Conversation, error) {
	conv, found, err := a.store.GetConversation(conversationID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("lookup conversation: %w", err)
	}
	if !found || conv.UserID != userID {
		return domain.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

func conversationTitle(firstMessage string) string {
	if utf8.RuneCountInString(firstMessage) <= titleMaxRunes {
		return firstMessage
	}
	runes := []rune(firstMessage)
	return string(runes[:titleMaxRunes]) + "..."
}
