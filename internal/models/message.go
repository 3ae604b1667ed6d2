package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatherspace/backend/pkg/apperr"
)

// MessageType distinguishes user chat from generated notices.
type MessageType string

const (
	MessageTypeText         MessageType = "text"
	MessageTypeNotification MessageType = "notification"
	MessageTypeSystem       MessageType = "system"
)

// MaxMessageLen is the maximum message content length after trimming.
const MaxMessageLen = 2000

// ReadReceipt marks that a user has read a message. At most one entry
// per user.
type ReadReceipt struct {
	UserID uuid.UUID `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is a chat message. SenderName is a denormalized snapshot taken
// at creation time and never refreshed; renaming a user does not rewrite
// history.
type Message struct {
	ID          uuid.UUID     `json:"id"`
	Sender      uuid.UUID     `json:"sender"`
	SenderName  string        `json:"senderName"`
	EventID     *uuid.UUID    `json:"eventId,omitempty"`
	Content     string        `json:"content"`
	MessageType MessageType   `json:"messageType"`
	IsEdited    bool          `json:"isEdited"`
	EditedAt    *time.Time    `json:"editedAt,omitempty"`
	ReadBy      []ReadReceipt `json:"readBy"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// ValidateMessageContent trims content and enforces the 1..2000 length
// rule.
func ValidateMessageContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperr.Validation("message content must not be empty")
	}
	if len(content) > MaxMessageLen {
		return "", apperr.Validation("message content must be at most 2000 characters")
	}
	return content, nil
}

// NewMessage validates and builds a message ready for persistence.
func NewMessage(sender uuid.UUID, senderName, content string, msgType MessageType, eventID *uuid.UUID) (*Message, error) {
	content, err := ValidateMessageContent(content)
	if err != nil {
		return nil, err
	}
	switch msgType {
	case "":
		msgType = MessageTypeText
	case MessageTypeText, MessageTypeNotification, MessageTypeSystem:
	default:
		return nil, apperr.Validation("messageType must be text, notification or system")
	}
	return &Message{
		ID:          uuid.New(),
		Sender:      sender,
		SenderName:  senderName,
		EventID:     eventID,
		Content:     content,
		MessageType: msgType,
		ReadBy:      []ReadReceipt{},
		CreatedAt:   time.Now(),
	}, nil
}

// MarkRead appends a read receipt unless the user already has one.
// Returns true when the receipt was added.
func (m *Message) MarkRead(userID uuid.UUID, at time.Time) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return false
		}
	}
	m.ReadBy = append(m.ReadBy, ReadReceipt{UserID: userID, ReadAt: at})
	return true
}

// MessageStats aggregates message counters for dashboards.
type MessageStats struct {
	TotalMessages int `json:"totalMessages"`
	MessagesToday int `json:"messagesToday"`
}
