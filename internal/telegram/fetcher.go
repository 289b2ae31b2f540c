// Package telegram pulls new chat messages from the Bot API into the message cache.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/period"
	"github.com/hyperjump/chatdigest/internal/storage"
)

// Bot is the part of the Bot API client the fetcher needs.
type Bot interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// BotFactory creates Bot instances (allows mocking).
type BotFactory func(token, apiEndpoint string, client *http.Client) (Bot, error)

// DefaultBotFactory connects to the real Bot API.
var DefaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (Bot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return bot, nil
}

// stateBucket holds the update offset next to the chat buckets.
var stateBucket = storage.Bucket{Chat: "_telegram", Stage: "state"}

const (
	offsetKey = "updates"
	pageSize  = 100
)

type state struct {
	Offset int `yaml:"offset"`
}

// update mirrors the getUpdates payload. Forum topic ids are decoded here since
// the client's Message type predates them.
type update struct {
	UpdateID int      `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	MessageID       int64          `json:"message_id"`
	MessageThreadID int64          `json:"message_thread_id"`
	From            *tgbotapi.User `json:"from"`
	SenderChat      *tgbotapi.Chat `json:"sender_chat"`
	Date            int64          `json:"date"`
	Chat            tgbotapi.Chat  `json:"chat"`
	Text            string         `json:"text"`
	Caption         string         `json:"caption"`
}

func (m *message) sender() int64 {
	switch {
	case m.From != nil:
		return m.From.ID
	case m.SenderChat != nil:
		return m.SenderChat.ID
	}
	return 0
}

func (m *message) text() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

type target struct {
	chat   models.Chat
	store  *storage.ChatStore
	chatID int64
	topic  int64
	after  int64 // last cached message id
	batch  []models.DatedMessage
}

// Fetcher routes Bot API updates into the caches of the configured chats.
type Fetcher struct {
	bot     Bot
	backend storage.Backend
	chats   []models.Chat
	logger  *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets a logger for fetch progress.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher returns a fetcher for chats stored on backend.
func NewFetcher(bot Bot, backend storage.Backend, chats []models.Chat, opts ...Option) *Fetcher {
	f := &Fetcher{bot: bot, backend: backend, chats: chats}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch drains pending updates, appends the messages of every configured chat
// topic to its cache, and returns the periods touched per chat slug. The update
// offset is saved only after the messages are cached, so an interrupted fetch is
// repeated rather than lost; repeated messages are deduplicated by the cache.
func (f *Fetcher) Fetch(ctx context.Context) (map[string][]period.Period, error) {
	targets, err := f.targets(ctx)
	if err != nil {
		return nil, err
	}
	st, err := f.loadState(ctx)
	if err != nil {
		return nil, err
	}

	touched := make(map[string][]period.Period)
	for {
		if err := ctx.Err(); err != nil {
			return touched, err
		}
		updates, err := f.getUpdates(st.Offset)
		if err != nil {
			return touched, err
		}
		if len(updates) == 0 {
			return touched, nil
		}
		for _, u := range updates {
			f.route(targets, u)
			st.Offset = u.UpdateID + 1
		}
		for _, t := range targets {
			if len(t.batch) == 0 {
				continue
			}
			ps, err := t.store.Cache.AppendByTime(ctx, t.batch)
			if err != nil {
				return touched, fmt.Errorf("failed to cache messages of %s: %w", t.chat.Slug, err)
			}
			if f.logger != nil {
				f.logger.Info("messages cached", zap.String("chat", t.chat.Slug), zap.Int("count", len(t.batch)))
			}
			for _, m := range t.batch {
				t.after = max(t.after, m.ID)
			}
			t.batch = nil
			touched[t.chat.Slug] = mergePeriods(touched[t.chat.Slug], ps)
		}
		if err := f.saveState(ctx, st); err != nil {
			return touched, err
		}
	}
}

func (f *Fetcher) targets(ctx context.Context) ([]*target, error) {
	out := make([]*target, 0, len(f.chats))
	for _, c := range f.chats {
		chatID, err := c.ChatID()
		if err != nil {
			return nil, err
		}
		topic, err := c.TopicID()
		if err != nil {
			return nil, err
		}
		store := storage.NewChatStore(f.backend, c.Slug)
		after, err := store.Cache.LastMessageID(ctx)
		if err != nil {
			return nil, err
		}
		if f.logger != nil {
			f.logger.Debug("resuming chat", zap.String("chat", c.Slug), zap.Int64("after_message", after))
		}
		out = append(out, &target{chat: c, store: store, chatID: chatID, topic: topic, after: after})
	}
	return out, nil
}

func (f *Fetcher) route(targets []*target, u update) {
	m := u.Message
	if m == nil || m.text() == "" {
		return
	}
	for _, t := range targets {
		if m.Chat.ID != t.chatID || m.MessageThreadID != t.topic || m.MessageID <= t.after {
			continue
		}
		t.batch = append(t.batch, models.DatedMessage{
			Message: models.Message{ID: m.MessageID, Sender: m.sender(), Text: m.text()},
			Date:    time.Unix(m.Date, 0).UTC(),
		})
		return
	}
}

func (f *Fetcher) getUpdates(offset int) ([]update, error) {
	params := make(tgbotapi.Params)
	params.AddNonZero("offset", offset)
	params.AddNonZero("limit", pageSize)
	params["timeout"] = "0"
	if err := params.AddInterface("allowed_updates", []string{"message"}); err != nil {
		return nil, err
	}
	resp, err := f.bot.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, fmt.Errorf("getUpdates failed: %w", err)
	}
	var updates []update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("failed to decode updates: %w", err)
	}
	return updates, nil
}

func (f *Fetcher) loadState(ctx context.Context) (state, error) {
	var st state
	data, err := f.backend.Read(ctx, stateBucket, offsetKey)
	if errors.Is(err, storage.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("failed to decode fetch state: %w", err)
	}
	return st, nil
}

func (f *Fetcher) saveState(ctx context.Context, st state) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	return f.backend.Write(ctx, stateBucket, offsetKey, data)
}

func mergePeriods(a, b []period.Period) []period.Period {
	seen := make(map[period.Period]bool, len(a))
	for _, p := range a {
		seen[p] = true
	}
	for _, p := range b {
		if !seen[p] {
			a = append(a, p)
			seen[p] = true
		}
	}
	period.Sort(a)
	return a
}

// Offset returns the stored update offset, for status output.
func (f *Fetcher) Offset(ctx context.Context) (int, error) {
	st, err := f.loadState(ctx)
	return st.Offset, err
}
