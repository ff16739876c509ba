package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// The action dispatcher delegates every side effect to one of these
// collaborators. The core treats them as black boxes: each call gets a
// bounded-wait context and a timeout is an action failure, not a hang.

// MessageSender delivers a message over a named channel (email, sms).
type MessageSender interface {
	SendMessage(ctx context.Context, channel, to, body string, context map[string]any) error
}

// RecordMutator writes a single field on a referenced record.
type RecordMutator interface {
	MutateRecord(ctx context.Context, entityType string, entityID uuid.UUID, field string, value any) error
}

// Tagger attaches a tag to a referenced record.
type Tagger interface {
	TagEntity(ctx context.Context, entityType string, entityID uuid.UUID, tag string) error
}

// Notifier raises an internal notification for a user or team target.
type Notifier interface {
	Notify(ctx context.Context, target, message string) error
}

// Collaborators bundles the action dispatch targets.
type Collaborators struct {
	Messages      MessageSender
	Records       RecordMutator
	Tags          Tagger
	Notifications Notifier
}

// LogMessageSender is the default message transport: it logs the send
// instead of delivering. Real transports are wired in at startup.
type LogMessageSender struct {
	Logger *slog.Logger
}

func (s *LogMessageSender) SendMessage(ctx context.Context, channel, to, body string, _ map[string]any) error {
	s.Logger.InfoContext(ctx, "sending message", "channel", channel, "to", to, "body_length", len(body))
	return nil
}

// LogNotifier is the default notifier, logging instead of delivering.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, target, message string) error {
	n.Logger.InfoContext(ctx, "sending notification", "target", target, "message", message)
	return nil
}
