// Package service is the surface the presentation layer calls. Every method
// takes the acting user from the context and applies the role rules before
// delegating to the repositories, the audit ledger and the reconciliation engine.
package service

import (
	"context"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"fieldledger/backend/internal/audit"
	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/notify"
	"fieldledger/backend/internal/reconcile"
	"fieldledger/backend/internal/repository"
	"fieldledger/backend/internal/session"
	"fieldledger/backend/internal/store"
)

const defaultVisibilityDays = 2

type Config struct {
	// VisibilityDays is how far back, in days before today, an originating
	// role can see its entries.
	VisibilityDays int
}

type Service struct {
	store    *store.Store
	repos    *repository.Repositories
	ledger   *audit.Ledger
	engine   *reconcile.Engine
	notifier *notify.Notifier
	cfg      Config
	logger   zerolog.Logger
}

func New(st *store.Store, repos *repository.Repositories, ledger *audit.Ledger, engine *reconcile.Engine, notifier *notify.Notifier, cfg Config, logger zerolog.Logger) *Service {
	if cfg.VisibilityDays < 1 {
		cfg.VisibilityDays = defaultVisibilityDays
	}
	return &Service{
		store:    st,
		repos:    repos,
		ledger:   ledger,
		engine:   engine,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "service").Logger(),
	}
}

func (s *Service) today() domain.Date {
	return domain.DateOf(s.repos.Now())
}

// visibleFrom is the earliest day an originating role can still see.
func (s *Service) visibleFrom() domain.Date {
	return s.today().AddDays(-s.cfg.VisibilityDays)
}

// window narrows rng to the visibility window unless the actor supervises.
func (s *Service) window(actor domain.Actor, rng domain.DateRange) domain.DateRange {
	if actor.Role.Supervisor() {
		return rng
	}
	from := s.visibleFrom()
	if rng.From.IsZero() || rng.From.Before(from) {
		rng.From = from
	}
	return rng
}

func (s *Service) visible(actor domain.Actor, day domain.Date) bool {
	return actor.Role.Supervisor() || !day.Before(s.visibleFrom())
}

func requireRole(ctx context.Context, operation string, roles ...domain.Role) (domain.Actor, error) {
	actor, err := session.RequireActor(ctx, operation)
	if err != nil {
		return domain.Actor{}, err
	}
	if !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, domain.Forbidden("", 0, "role "+string(actor.Role)+" may not "+operation)
	}
	return actor, nil
}

func requireSupervisor(ctx context.Context, operation string) (domain.Actor, error) {
	return requireRole(ctx, operation, domain.RoleManager, domain.RoleDirector)
}

// stageSubmission records that actor created and submitted the entry in one operation.
func (s *Service) stageSubmission(ctx context.Context, b *store.Batch, entity domain.EntityType, id int64, actor domain.Actor) error {
	opID := audit.NewOperationID()
	for _, action := range []domain.AuditAction{domain.ActionCreate, domain.ActionSubmit} {
		if _, err := s.ledger.Stage(ctx, b, audit.Entry{
			EntityType:  entity,
			EntityID:    id,
			Action:      action,
			Actor:       actor,
			OperationID: opID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// notifyBestEffort sends a notification outside the mutation it reports on.
// The mutation has already committed, so a failure is only logged.
func (s *Service) notifyBestEffort(ctx context.Context, n domain.Notification) {
	if n.UserID <= 0 {
		return
	}
	if _, err := s.notifier.Send(ctx, n); err != nil {
		s.logger.Warn().Err(err).
			Int64("user_id", n.UserID).
			Str("type", string(n.Type)).
			Msg("failed to store notification")
	}
}

func reasonOf(reason string) string {
	return strings.TrimSpace(reason)
}
