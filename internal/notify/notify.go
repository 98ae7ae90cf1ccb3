// Package notify publishes aggregate notifications produced by provider
// adaptors. A [LogPublisher] writes them to the log; a
// [HomeAssistantPublisher] mirrors them as Home Assistant persistent
// notifications.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/njoerd114/socialsync/internal/model"
)

// Notification is one per-account aggregate notification. Publishing a
// notification with the same Category and AccountID replaces the previous
// one.
type Notification struct {
	Category  string
	AccountID model.AccountID
	Summary   string
	Body      string
	Timestamp time.Time
	ItemCount int

	// Link is opened when the user activates the notification.
	Link string
}

// ID returns the replacement key of n.
func (n Notification) ID() string {
	return ID(n.Category, n.AccountID)
}

// ID returns the replacement key for category and account.
func ID(category string, account model.AccountID) string {
	return fmt.Sprintf("socialsync.%s.%d", category, account)
}

// Publisher shows and withdraws notifications.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
	Dismiss(ctx context.Context, category string, account model.AccountID) error
}

// LogPublisher writes notifications to a logger.
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher returns a LogPublisher writing to logger.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{log: logger}
}

// Publish logs n at Info.
func (p *LogPublisher) Publish(_ context.Context, n Notification) error {
	p.log.Info("notification",
		"id", n.ID(),
		"summary", n.Summary,
		"body", n.Body,
		"items", n.ItemCount,
		"timestamp", n.Timestamp,
		"link", n.Link,
	)
	return nil
}

// Dismiss logs the withdrawal at Debug.
func (p *LogPublisher) Dismiss(_ context.Context, category string, account model.AccountID) error {
	p.log.Debug("notification dismissed", "id", ID(category, account))
	return nil
}
