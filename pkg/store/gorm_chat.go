package store

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"multillm/pkg/domain"
)

// CreateConversation creates a new conversation record.
func (s *GormStore) CreateConversation(c domain.Conversation) (domain.Conversation, error) {
	model := conversationToModel(c)
	model.ID = 0
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Conversation{}, translateError(err)
	}
	return conversationFromModel(model), nil
}

// StartConversation creates a conversation together with its opening
// message. Neither row is kept unless both inserts succeed.
func (s *GormStore) StartConversation(c domain.Conversation, first domain.Message) (domain.Conversation, domain.Message, error) {
	conv := conversationToModel(c)
	conv.ID = 0
	msg := messageToModel(first)
	msg.ID = 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		msg.ConversationID = conv.ID
		if msg.UserID == 0 {
			msg.UserID = conv.UserID
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		// pick up the updated_at written by the message trigger
		return tx.First(&conv, "id = ?", conv.ID).Error
	})
	if err != nil {
		return domain.Conversation{}, domain.Message{}, translateError(err)
	}
	return conversationFromModel(conv), messageFromModel(msg), nil
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(id int64) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

type messageCountRow struct {
	ConversationID int64
	MessageCount   int64
}

// ListConversationSummaries returns a user's conversations with message
// counts, most recently active first.
func (s *GormStore) ListConversationSummaries(userID int64, limit int) ([]domain.ConversationSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ConversationModel
	if err := s.db.Where("user_id = ?", userID).
		Order("updated_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return []domain.ConversationSummary{}, nil
	}
	ids := make([]int64, 0, len(models))
	for _, model := range models {
		ids = append(ids, model.ID)
	}
	var counts []messageCountRow
	if err := s.db.Model(&MessageModel{}).
		Select("conversation_id, COUNT(id) AS message_count").
		Where("conversation_id IN ?", ids).
		Group("conversation_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	byConversation := make(map[int64]int64, len(counts))
	for _, row := range counts {
		byConversation[row.ConversationID] = row.MessageCount
	}
	items := make([]domain.ConversationSummary, 0, len(models))
	for _, model := range models {
		items = append(items, domain.ConversationSummary{
			Conversation: conversationFromModel(model),
			MessageCount: byConversation[model.ID],
		})
	}
	return items, nil
}

// RenameConversation sets a new title.
func (s *GormStore) RenameConversation(id int64, title string) error {
	res := s.db.Model(&ConversationModel{}).Where("id = ?", id).Updates(map[string]any{
		"title":      strings.TrimSpace(title),
		"updated_at": storeTime(time.Now()),
	})
	return rowsOrNotFound(res)
}

// DeleteConversation removes a conversation. Messages and feedback cascade;
// uploaded files keep their row with conversation_id cleared.
func (s *GormStore) DeleteConversation(id int64) error {
	res := s.db.Delete(&ConversationModel{}, "id = ?", id)
	return rowsOrNotFound(res)
}

// AppendMessage records a message. The conversation's updated_at is bumped
// by trigger.
func (s *GormStore) AppendMessage(msg domain.Message) (domain.Message, error) {
	model := messageToModel(msg)
	model.ID = 0
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Message{}, translateError(err)
	}
	return messageFromModel(model), nil
}

// GetMessage returns one message by ID.
func (s *GormStore) GetMessage(id int64) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// ListMessages returns a conversation's messages in chronological order.
// A non-positive limit returns all of them.
func (s *GormStore) ListMessages(conversationID int64, limit int) ([]domain.Message, error) {
	query := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

// RecordUploadedFile stores file metadata.
func (s *GormStore) RecordUploadedFile(f domain.UploadedFile) (domain.UploadedFile, error) {
	model := uploadedFileToModel(f)
	model.ID = 0
	if err := s.db.Create(&model).Error; err != nil {
		return domain.UploadedFile{}, translateError(err)
	}
	return uploadedFileFromModel(model), nil
}

// GetUploadedFile returns one file record.
func (s *GormStore) GetUploadedFile(id int64) (domain.UploadedFile, bool, error) {
	var model UploadedFileModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UploadedFile{}, false, nil
		}
		return domain.UploadedFile{}, false, err
	}
	return uploadedFileFromModel(model), true, nil
}

// ListUploadedFiles returns a user's files, newest first.
func (s *GormStore) ListUploadedFiles(userID int64) ([]domain.UploadedFile, error) {
	return s.listFiles("user_id = ?", userID)
}

// ListConversationFiles returns files attached to a conversation, newest first.
func (s *GormStore) ListConversationFiles(conversationID int64) ([]domain.UploadedFile, error) {
	return s.listFiles("conversation_id = ?", conversationID)
}

func (s *GormStore) listFiles(query string, args ...any) ([]domain.UploadedFile, error) {
	var models []UploadedFileModel
	if err := s.db.Where(query, args...).
		Order("uploaded_at DESC").
		Order("id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	files := make([]domain.UploadedFile, 0, len(models))
	for _, model := range models {
		files = append(files, uploadedFileFromModel(model))
	}
	return files, nil
}

// DeleteUploadedFile removes a file record.
func (s *GormStore) DeleteUploadedFile(id int64) error {
	res := s.db.Delete(&UploadedFileModel{}, "id = ?", id)
	return rowsOrNotFound(res)
}

// CreateFeedback stores a rating for a message.
func (s *GormStore) CreateFeedback(f domain.Feedback) (domain.Feedback, error) {
	model := FeedbackModel{
		UserID:         f.UserID,
		MessageID:      f.MessageID,
		ConversationID: f.ConversationID,
		Rating:         f.Rating,
		Comment:        strings.TrimSpace(f.Comment),
		CreatedAt:      f.CreatedAt,
	}
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Feedback{}, translateError(err)
	}
	return feedbackFromModel(model), nil
}

// ListFeedbackForMessage returns the ratings left on a message.
func (s *GormStore) ListFeedbackForMessage(messageID int64) ([]domain.Feedback, error) {
	var models []FeedbackModel
	if err := s.db.Where("message_id = ?", messageID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Feedback, 0, len(models))
	for _, model := range models {
		items = append(items, feedbackFromModel(model))
	}
	return items, nil
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:        c.ID,
		UserID:    c.UserID,
		ModelName: strings.TrimSpace(c.ModelName),
		Domain:    strings.TrimSpace(c.Domain),
		Title:     c.Title,
		CreatedAt: storeTime(c.CreatedAt),
		UpdatedAt: storeTime(c.UpdatedAt),
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:        m.ID,
		UserID:    m.UserID,
		ModelName: m.ModelName,
		Domain:    m.Domain,
		Title:     m.Title,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	var filePath *string
	if strings.TrimSpace(msg.FilePath) != "" {
		value := strings.TrimSpace(msg.FilePath)
		filePath = &value
	}
	inputType := string(msg.InputType)
	if inputType == "" {
		inputType = string(domain.InputText)
	}
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		InputType:      inputType,
		FilePath:       filePath,
		CreatedAt:      storeTime(msg.CreatedAt),
	}
}

func messageFromModel(m MessageModel) domain.Message {
	filePath := ""
	if m.FilePath != nil {
		filePath = *m.FilePath
	}
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		UserID:         m.UserID,
		Role:           domain.MessageRole(m.Role),
		Content:        m.Content,
		InputType:      domain.InputType(m.InputType),
		FilePath:       filePath,
		CreatedAt:      m.CreatedAt,
	}
}

func uploadedFileToModel(f domain.UploadedFile) UploadedFileModel {
	return UploadedFileModel{
		ID:             f.ID,
		UserID:         f.UserID,
		ConversationID: f.ConversationID,
		Filename:       f.Filename,
		FilePath:       f.FilePath,
		FileType:       strings.ToLower(strings.TrimSpace(f.FileType)),
		FileSize:       f.FileSize,
		UploadedAt:     f.UploadedAt,
	}
}

func uploadedFileFromModel(m UploadedFileModel) domain.UploadedFile {
	return domain.UploadedFile{
		ID:             m.ID,
		UserID:         m.UserID,
		ConversationID: m.ConversationID,
		Filename:       m.Filename,
		FilePath:       m.FilePath,
		FileType:       m.FileType,
		FileSize:       m.FileSize,
		UploadedAt:     m.UploadedAt,
	}
}

func feedbackFromModel(m FeedbackModel) domain.Feedback {
	return domain.Feedback{
		ID:             m.ID,
		UserID:         m.UserID,
		MessageID:      m.MessageID,
		ConversationID: m.ConversationID,
		Rating:         m.Rating,
		Comment:        m.Comment,
		CreatedAt:      m.CreatedAt,
	}
}
