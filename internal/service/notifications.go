package service

import (
	"context"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/session"
)

// ListNotifications returns the actor's own notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	actor, err := session.RequireActor(ctx, "read notifications")
	if err != nil {
		return nil, err
	}
	return s.repos.Notifications.ForUser(ctx, actor.UserID)
}

func (s *Service) UnreadNotifications(ctx context.Context) (int, error) {
	actor, err := session.RequireActor(ctx, "read notifications")
	if err != nil {
		return 0, err
	}
	return s.repos.Notifications.UnreadCount(ctx, actor.UserID)
}

func (s *Service) MarkNotificationRead(ctx context.Context, id int64) (domain.Notification, error) {
	actor, err := session.RequireActor(ctx, "mark notifications read")
	if err != nil {
		return domain.Notification{}, err
	}
	return s.repos.Notifications.MarkRead(ctx, id, actor.UserID)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	actor, err := session.RequireActor(ctx, "mark notifications read")
	if err != nil {
		return 0, err
	}
	return s.repos.Notifications.MarkAllRead(ctx, actor.UserID)
}
