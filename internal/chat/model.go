package chat

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultCapacity is the retention ceiling applied when none is configured.
	DefaultCapacity = 20
	// DefaultTailSize is the read window applied when none is configured.
	DefaultTailSize = 10
	// BotAuthor is the reserved author of server-generated messages.
	BotAuthor = "bot"
	// TimeLayout formats the wall-clock label attached to every stored message.
	TimeLayout = "15:04"
)

const (
	maxAuthorLength = 190
	maxTextLength   = 4096
)

// Message is the authoritative copy of a chat message.
type Message struct {
	ID               int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	Text             string `gorm:"column:text;type:text;not null"`
	Author           string `gorm:"column:author;size:190;not null;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;default:0"`
	TimeLabel        string `gorm:"column:time_label;size:5;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "chat_messages"
}

// IsBot reports whether the message was authored by the server.
func (m Message) IsBot() bool {
	return m.Author == BotAuthor
}

// FormatTime renders t as a message time label.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

func newDraft(text, author string, now time.Time) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, newValidationError(opAppend, "missing_text", errMissingText)
	}
	if !utf8.ValidString(text) {
		return Message{}, newValidationError(opAppend, "invalid_text", errInvalidText)
	}
	if len(text) > maxTextLength {
		return Message{}, newValidationError(opAppend, "text_too_long",
			fmt.Errorf("%w: exceeds %d bytes", errInvalidText, maxTextLength))
	}
	trimmedAuthor := strings.TrimSpace(author)
	if trimmedAuthor == "" {
		return Message{}, newValidationError(opAppend, "missing_author", errMissingAuthor)
	}
	if len(trimmedAuthor) > maxAuthorLength {
		return Message{}, newValidationError(opAppend, "author_too_long",
			fmt.Errorf("%w: exceeds %d characters", errMissingAuthor, maxAuthorLength))
	}
	return Message{
		Text:             text,
		Author:           trimmedAuthor,
		CreatedAtSeconds: now.Unix(),
		TimeLabel:        FormatTime(now),
	}, nil
}
