package service

import (
	"context"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/notify"
	"fieldledger/backend/internal/session"
	"fieldledger/backend/internal/store"
)

// SubmitSales records a sale as submitted. From here on only a supervisor's
// audited update can change it.
func (s *Service) SubmitSales(ctx context.Context, req domain.SalesSubmission) (domain.SalesEntry, error) {
	actor, err := requireRole(ctx, "submit sales entries", domain.RoleReceptionist, domain.RoleManager, domain.RoleDirector)
	if err != nil {
		return domain.SalesEntry{}, err
	}

	entry := domain.SalesEntry{
		Date:         req.Date,
		SaleType:     req.SaleType,
		DriverID:     req.DriverID,
		DriverName:   req.DriverName,
		BagsAtPrice1: req.BagsAtPrice1,
		BagsAtPrice2: req.BagsAtPrice2,
		Notes:        req.Notes,
	}
	if entry.Date.IsZero() {
		entry.Date = s.today()
	}
	if entry.DriverID != nil {
		name, err := s.driverName(ctx, domain.EntitySalesEntry, *entry.DriverID)
		if err != nil {
			return domain.SalesEntry{}, err
		}
		if entry.DriverName == "" {
			entry.DriverName = name
		}
	}
	if entry.SaleType == domain.SaleTypeDriver && entry.DriverID == nil && entry.DriverName == "" {
		return domain.SalesEntry{}, domain.InvalidInput(string(domain.EntitySalesEntry), "driver_id", "driver sales need a driver")
	}
	entry.SubmittedBy = actor.UserID
	entry.SubmittedAt = s.repos.Now()
	entry.IsSubmitted = true

	b := store.NewBatch()
	id, err := s.repos.Sales.StageAdd(ctx, b, &entry)
	if err != nil {
		return domain.SalesEntry{}, err
	}
	if err := s.stageSubmission(ctx, b, domain.EntitySalesEntry, id, actor); err != nil {
		return domain.SalesEntry{}, err
	}
	if _, err := s.store.Commit(ctx, b); err != nil {
		return domain.SalesEntry{}, err
	}

	s.logger.Info().
		Int64("sales_entry_id", id).
		Str("date", entry.Date.String()).
		Int("total_bags", entry.TotalBags).
		Int64("submitted_by", actor.UserID).
		Msg("sales entry submitted")
	return entry, nil
}

func (s *Service) SubmitStock(ctx context.Context, req domain.StockSubmission) (domain.StockEntry, error) {
	actor, err := requireRole(ctx, "submit stock entries", domain.RoleStorekeeper, domain.RoleManager, domain.RoleDirector)
	if err != nil {
		return domain.StockEntry{}, err
	}

	entry := domain.StockEntry{
		Date:       req.Date,
		EntryType:  req.EntryType,
		DriverID:   req.DriverID,
		PackerName: req.PackerName,
		BagsCount:  req.BagsCount,
		Notes:      req.Notes,
	}
	if entry.Date.IsZero() {
		entry.Date = s.today()
	}
	if entry.DriverID != nil {
		if _, err := s.driverName(ctx, domain.EntityStockEntry, *entry.DriverID); err != nil {
			return domain.StockEntry{}, err
		}
	}
	switch entry.EntryType {
	case domain.StockDriverPickup:
		if entry.DriverID == nil {
			return domain.StockEntry{}, domain.InvalidInput(string(domain.EntityStockEntry), "driver_id", "driver pickups need a driver")
		}
	case domain.StockPackerProduction:
		if entry.PackerName == "" {
			return domain.StockEntry{}, domain.InvalidInput(string(domain.EntityStockEntry), "packer_name", "packer production needs a packer")
		}
	}
	entry.SubmittedBy = actor.UserID
	entry.SubmittedAt = s.repos.Now()
	entry.IsSubmitted = true

	b := store.NewBatch()
	id, err := s.repos.Stock.StageAdd(ctx, b, &entry)
	if err != nil {
		return domain.StockEntry{}, err
	}
	if err := s.stageSubmission(ctx, b, domain.EntityStockEntry, id, actor); err != nil {
		return domain.StockEntry{}, err
	}
	if _, err := s.store.Commit(ctx, b); err != nil {
		return domain.StockEntry{}, err
	}

	s.logger.Info().
		Int64("stock_entry_id", id).
		Str("entry_type", string(entry.EntryType)).
		Int("bags", entry.BagsCount).
		Int64("submitted_by", actor.UserID).
		Msg("stock entry submitted")
	return entry, nil
}

func (s *Service) driverName(ctx context.Context, entity domain.EntityType, driverID int64) (string, error) {
	profile, err := s.repos.Staff.Get(ctx, driverID)
	if err != nil {
		return "", err
	}
	if profile.Kind != domain.StaffDriver {
		return "", domain.InvalidInput(string(entity), "driver_id", "staff profile is not a driver")
	}
	return profile.Name, nil
}

func (s *Service) GetSales(ctx context.Context, id int64) (domain.SalesEntry, error) {
	actor, err := requireRole(ctx, "read sales entries", domain.RoleReceptionist, domain.RoleManager, domain.RoleDirector)
	if err != nil {
		return domain.SalesEntry{}, err
	}
	entry, err := s.repos.Sales.Get(ctx, id)
	if err != nil {
		return domain.SalesEntry{}, err
	}
	if !s.visible(actor, entry.Date) {
		return domain.SalesEntry{}, domain.Forbidden(string(domain.EntitySalesEntry), id, "outside the visibility window")
	}
	return entry, nil
}

// ListSales returns entries in rng, newest first. Receptionists only see the
// trailing visibility window.
func (s *Service) ListSales(ctx context.Context, rng domain.DateRange) ([]domain.SalesEntry, error) {
	actor, err := requireRole(ctx, "read sales entries", domain.RoleReceptionist, domain.RoleManager, domain.RoleDirector)
	if err != nil {
		return nil, err
	}
	return s.repos.Sales.ListByDateRange(ctx, s.window(actor, rng))
}

func (s *Service) ListSalesByDriver(ctx context.Context, driverID int64) ([]domain.SalesEntry, error) {
	if _, err := requireSupervisor(ctx, "read driver sales"); err != nil {
		return nil, err
	}
	return s.repos.Sales.ListByDriver(ctx, driverID)
}

// UpdateSales applies a supervisor's correction with its audit trail and tells
// the submitter about it.
func (s *Service) UpdateSales(ctx context.Context, id int64, patch domain.SalesEntryPatch, reason string) (domain.SalesEntry, error) {
	actor, _ := session.ActorFromContext(ctx)
	updated, changes, err := s.repos.Sales.UpdateWithReason(ctx, id, patch, actor, reasonOf(reason))
	if err != nil {
		return domain.SalesEntry{}, err
	}
	if len(changes) > 0 {
		s.logger.Info().Int64("sales_entry_id", id).Int("fields", len(changes)).Int64("changed_by", actor.UserID).Msg("sales entry corrected")
		if updated.SubmittedBy != actor.UserID {
			s.notifyBestEffort(ctx, notify.EntryUpdated(domain.EntitySalesEntry, id, updated.SubmittedBy, changes, reasonOf(reason)))
		}
	}
	return updated, nil
}

func (s *Service) GetStock(ctx context.Context, id int64) (domain.StockEntry, error) {
	actor, err := requireRole(ctx, "read stock entries", domain.RoleStorekeeper, domain.RoleManager, domain.RoleDirector)
	if err != nil {
		return domain.StockEntry{}, err
	}
	entry, err := s.repos.Stock.Get(ctx, id)
	if err != nil {
		return domain.StockEntry{}, err
	}
	if !s.visible(actor, entry.Date) {
		return domain.StockEntry{}, domain.Forbidden(string(domain.EntityStockEntry), id, "outside the visibility window")
	}
	return entry, nil
}

func (s *Service) ListStock(ctx context.Context, rng domain.DateRange) ([]domain.StockEntry, error) {
	actor, err := requireRole(ctx, "read stock entries", domain.RoleStorekeeper, domain.RoleManager, domain.RoleDirector)
	if err != nil {
		return nil, err
	}
	return s.repos.Stock.ListByDateRange(ctx, s.window(actor, rng))
}

func (s *Service) ListStockByType(ctx context.Context, entryType domain.StockEntryType, rng domain.DateRange) ([]domain.StockEntry, error) {
	actor, err := requireRole(ctx, "read stock entries", domain.RoleStorekeeper, domain.RoleManager, domain.RoleDirector)
	if err != nil {
		return nil, err
	}
	return s.repos.Stock.ListByType(ctx, entryType, s.window(actor, rng))
}

func (s *Service) UpdateStock(ctx context.Context, id int64, patch domain.StockEntryPatch, reason string) (domain.StockEntry, error) {
	actor, _ := session.ActorFromContext(ctx)
	updated, changes, err := s.repos.Stock.UpdateWithReason(ctx, id, patch, actor, reasonOf(reason))
	if err != nil {
		return domain.StockEntry{}, err
	}
	if len(changes) > 0 {
		s.logger.Info().Int64("stock_entry_id", id).Int("fields", len(changes)).Int64("changed_by", actor.UserID).Msg("stock entry corrected")
		if updated.SubmittedBy != actor.UserID {
			s.notifyBestEffort(ctx, notify.EntryUpdated(domain.EntityStockEntry, id, updated.SubmittedBy, changes, reasonOf(reason)))
		}
	}
	return updated, nil
}
