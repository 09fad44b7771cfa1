// Package protocol defines the wire shapes exchanged by the chat server and its clients.
package protocol

import "github.com/MarcoPoloResearchLab/chatlog/internal/chat"

const (
	// MessagesPath serves both Read (GET) and Write (POST).
	MessagesPath = "/chat/messages"
	// LegacyReadPath and LegacyWritePath serve clients built against the first release.
	LegacyReadPath  = "/api/chat/load"
	LegacyWritePath = "/api/chat/send"

	// PlaceholderTime is returned with failed writes so clients can always parse a time.
	PlaceholderTime = "00:00"
)

// Error codes carried in the "error" field of failure responses.
const (
	ErrorInvalidRequest = "invalid_request"
	ErrorInvalidMessage = "invalid_message"
	ErrorLoadFailed     = "load_failed"
	ErrorWriteFailed    = "write_failed"
	ErrorRateLimited    = "rate_limited"
)

// MessagePayload is one entry of a Read response.
type MessagePayload struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
	From string `json:"from"`
	Time string `json:"time"`
}

// WriteRequest is the body of a Write call.
type WriteRequest struct {
	Message string `json:"message"`
	From    string `json:"from"`
}

// WriteResponse is the body of a Write response. Failed writes carry PlaceholderTime
// and an Error code.
type WriteResponse struct {
	Time    string          `json:"time"`
	Message *MessagePayload `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// ErrorResponse is the body of a failed Read or a rejected Write.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// NewMessagePayload converts a stored message to its wire form.
func NewMessagePayload(message chat.Message) MessagePayload {
	return MessagePayload{
		ID:   message.ID,
		Text: message.Text,
		From: message.Author,
		Time: message.TimeLabel,
	}
}

// NewMessagePayloads converts a tail to its wire form. The result is never nil.
func NewMessagePayloads(messages []chat.Message) []MessagePayload {
	payloads := make([]MessagePayload, 0, len(messages))
	for _, message := range messages {
		payloads = append(payloads, NewMessagePayload(message))
	}
	return payloads
}
