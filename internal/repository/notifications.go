package repository

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/store"
)

// Notifications are created once and afterwards only flip IsRead.
type Notifications struct {
	t *table[domain.Notification]
}

func newNotifications(st *store.Store, v *validator.Validate, now func() time.Time) *Notifications {
	return &Notifications{t: &table[domain.Notification]{
		store:    st,
		name:     CollectionNotifications,
		entity:   "notification",
		temporal: temporalFields{instants: []string{"created_at"}},
		validate: v,
		now:      now,
		setID:    func(n *domain.Notification, id int64) { n.ID = id },
		stamp: func(n *domain.Notification, now time.Time, created bool) {
			if created {
				n.CreatedAt = now
			}
		},
	}}
}

func (r *Notifications) StageAdd(ctx context.Context, b *store.Batch, n *domain.Notification) (int64, error) {
	n.IsRead = false
	return r.t.stageInsert(ctx, b, n)
}

func (r *Notifications) Add(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	n.IsRead = false
	if _, err := r.t.insert(ctx, &n); err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

func (r *Notifications) Get(ctx context.Context, id int64) (domain.Notification, error) {
	return r.t.get(ctx, id)
}

// ForUser returns the user's notifications, newest first.
func (r *Notifications) ForUser(ctx context.Context, userID int64) ([]domain.Notification, error) {
	items, err := r.t.byIndex(ctx, "by_user", store.Equal(userID))
	if err != nil {
		return nil, err
	}
	// keys follow creation order, so the last key is the newest
	return newestFirst(items), nil
}

func (r *Notifications) UnreadCount(ctx context.Context, userID int64) (int, error) {
	items, err := r.ForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, item := range items {
		if !item.IsRead {
			n++
		}
	}
	return n, nil
}

// MarkRead flips IsRead for a notification addressed to userID.
func (r *Notifications) MarkRead(ctx context.Context, id int64, userID int64) (domain.Notification, error) {
	return r.t.modify(ctx, id, func(cur domain.Notification, _ *store.Batch) (domain.Notification, bool, error) {
		if cur.UserID != userID {
			return cur, false, domain.Forbidden("notification", id, "addressed to another user")
		}
		if cur.IsRead {
			return cur, false, nil
		}
		cur.IsRead = true
		return cur, true, nil
	})
}

// MarkAllRead marks every unread notification of the user and returns how many changed.
func (r *Notifications) MarkAllRead(ctx context.Context, userID int64) (int, error) {
	items, err := r.ForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, item := range items {
		if item.IsRead {
			continue
		}
		if _, err := r.MarkRead(ctx, item.ID, userID); err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}
