package models

import (
	"fmt"
	"regexp"
	"strconv"
)

var chatURLPattern = regexp.MustCompile(`^https://t\.me/c/(\d+)/(\d+)`)

// chatIDOffset turns the numeric id from a t.me/c link into a Bot API supergroup id.
const chatIDOffset = -1000000000000

// FAQCategory is one section of the FAQ.
type FAQCategory struct {
	Title       string `yaml:"title" json:"title"`
	Slug        string `yaml:"slug" json:"slug"`
	Description string `yaml:"description" json:"description"`
}

// FAQConfig controls FAQ rendering for a chat.
type FAQConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Categories []FAQCategory `yaml:"categories"`
}

// AutoConfig describes a keyword-collected page.
type AutoConfig struct {
	Keywords    []string `yaml:"keywords"`
	File        string   `yaml:"file"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	NewFirst    bool     `yaml:"new_first"`
}

// Chat is one source topic and the knowledge base built from it.
type Chat struct {
	Title       string       `yaml:"title"`
	URL         string       `yaml:"url"`
	Slug        string       `yaml:"slug"`
	Description string       `yaml:"description"`
	Files       []string     `yaml:"files"`
	Cases       bool         `yaml:"cases"`
	FAQ         FAQConfig    `yaml:"faq"`
	Auto        []AutoConfig `yaml:"auto"`
}

func (c Chat) parseURL() (chatID, topicID int64, err error) {
	m := chatURLPattern.FindStringSubmatch(c.URL)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid chat URL format: %s, expected https://t.me/c/<chat_id>/<topic_id>", c.URL)
	}
	chatID, err = strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid chat id in %s: %w", c.URL, err)
	}
	topicID, err = strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid topic id in %s: %w", c.URL, err)
	}
	return chatID, topicID, nil
}

// NumericID returns the chat number as it appears in the t.me link.
func (c Chat) NumericID() (int64, error) {
	id, _, err := c.parseURL()
	return id, err
}

// ChatID returns the Bot API id of the supergroup.
func (c Chat) ChatID() (int64, error) {
	id, _, err := c.parseURL()
	if err != nil {
		return 0, err
	}
	return chatIDOffset - id, nil
}

// TopicID returns the forum topic the chat is scoped to.
func (c Chat) TopicID() (int64, error) {
	_, topic, err := c.parseURL()
	return topic, err
}

// Validate checks the fields every command relies on.
func (c Chat) Validate() error {
	if c.Slug == "" {
		return fmt.Errorf("chat %q: slug is required", c.Title)
	}
	if _, _, err := c.parseURL(); err != nil {
		return fmt.Errorf("chat %q: %w", c.Slug, err)
	}
	return nil
}
