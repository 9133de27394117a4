// Package notify persists notifications and fans them out to live listeners
// once the write that produced them has committed.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/repository"
	"fieldledger/backend/internal/store"
)

// Publisher delivers a committed notification to whoever is listening.
// Delivery is best effort; the stored record is authoritative.
type Publisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ domain.Notification) error {
	return nil
}

type Notifier struct {
	repo      *repository.Notifications
	publisher Publisher
	logger    zerolog.Logger
}

func New(repo *repository.Notifications, publisher Publisher, logger zerolog.Logger) *Notifier {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &Notifier{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With().Str("component", "notify").Logger(),
	}
}

// Stage adds n to b. Call Published with the same notification after the
// batch commits.
func (n *Notifier) Stage(ctx context.Context, b *store.Batch, note *domain.Notification) (int64, error) {
	return n.repo.StageAdd(ctx, b, note)
}

// Send stores a notification on its own and publishes it.
func (n *Notifier) Send(ctx context.Context, note domain.Notification) (domain.Notification, error) {
	saved, err := n.repo.Add(ctx, note)
	if err != nil {
		return domain.Notification{}, err
	}
	n.Published(ctx, saved)
	return saved, nil
}

// Published hands committed notifications to the publisher. Failures are
// logged and dropped.
func (n *Notifier) Published(ctx context.Context, notes ...domain.Notification) {
	for _, note := range notes {
		if err := n.publisher.Publish(ctx, note); err != nil {
			n.logger.Warn().Err(err).
				Int64("notification_id", note.ID).
				Int64("user_id", note.UserID).
				Str("type", string(note.Type)).
				Msg("publish notification failed")
		}
	}
}

func SettlementComplete(entry domain.SalesEntry, s domain.Settlement) domain.Notification {
	id := s.ID
	return domain.Notification{
		UserID:            entry.SubmittedBy,
		Type:              domain.NotificationSettlementComplete,
		Title:             "Settlement complete",
		Message:           fmt.Sprintf("Sales entry #%d of %s is fully settled: %s received against %s expected.", entry.ID, entry.Date, s.SettledAmount.StringFixed(2), s.ExpectedAmount.StringFixed(2)),
		RelatedEntityType: domain.EntitySettlement,
		RelatedEntityID:   &id,
	}
}

// EntryUpdated tells a submitter that a supervisor corrected their entry.
func EntryUpdated(entity domain.EntityType, id int64, submitter int64, changes []domain.FieldChange, reason string) domain.Notification {
	entityID := id
	return domain.Notification{
		UserID:            submitter,
		Type:              domain.NotificationEntryUpdated,
		Title:             "Entry corrected",
		Message:           fmt.Sprintf("Your %s #%d was corrected (%s): %s", entityLabel(entity), id, fieldList(changes), reason),
		RelatedEntityType: entity,
		RelatedEntityID:   &entityID,
	}
}

func AccountModified(user domain.UserAccount, changes []domain.FieldChange, reason string) domain.Notification {
	id := user.ID
	return domain.Notification{
		UserID:            user.ID,
		Type:              domain.NotificationAccountModified,
		Title:             "Account updated",
		Message:           fmt.Sprintf("Your account was updated (%s): %s", fieldList(changes), reason),
		RelatedEntityType: domain.EntityUserAccount,
		RelatedEntityID:   &id,
	}
}

func entityLabel(entity domain.EntityType) string {
	switch entity {
	case domain.EntitySalesEntry:
		return "sales entry"
	case domain.EntityStockEntry:
		return "stock entry"
	}
	return string(entity)
}

func fieldList(changes []domain.FieldChange) string {
	fields := make([]string, 0, len(changes))
	for _, c := range changes {
		fields = append(fields, c.Field)
	}
	return strings.Join(fields, ", ")
}
