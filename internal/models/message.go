// Package models defines the chat messages, derived knowledge and configuration
// entities shared by the pipeline stages.
package models

import (
	"fmt"
	"time"
)

// Message is one chat message. Messages are created by the transport and never
// mutated once stored.
type Message struct {
	ID     int64  `yaml:"id" json:"id"`
	Sender int64  `yaml:"sender" json:"sender"`
	Text   string `yaml:"text" json:"text"`
}

// DatedMessage is a message together with the time it was posted. Only the
// transport sees dates; stored messages are bucketed by period instead.
type DatedMessage struct {
	Message
	Date time.Time
}

// MessagesRequest is the payload shown to the model for one period.
type MessagesRequest struct {
	Month    string    `json:"month"`
	Messages []Message `json:"messages"`
}

// MessageLink points at a message in the source chat.
type MessageLink struct {
	MessageID int64
	ChatURL   string
}

// URL returns the public link to the message.
func (l MessageLink) URL() string {
	return fmt.Sprintf("%s/%d", l.ChatURL, l.MessageID)
}

// Title returns the short label used in rendered pages.
func (l MessageLink) Title() string {
	return fmt.Sprintf("#%d", l.MessageID)
}
