package service

import (
	"context"
	"strings"
	"unicode"

	"fieldledger/backend/internal/audit"
	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/notify"
	"fieldledger/backend/internal/session"
	"fieldledger/backend/internal/store"
)

const minPasswordLength = 8

// bootstrapLock serializes the empty-ledger check with the first account's commit.
const bootstrapLock = "bootstrap/users"

// CreateUser adds an account. Managers may only add receptionists and storekeepers.
func (s *Service) CreateUser(ctx context.Context, req domain.NewUserRequest) (domain.UserAccount, error) {
	actor, err := requireSupervisor(ctx, "create accounts")
	if err != nil {
		return domain.UserAccount{}, err
	}
	if actor.Role == domain.RoleManager && req.Role != domain.RoleReceptionist && req.Role != domain.RoleStorekeeper {
		return domain.UserAccount{}, domain.Forbidden(string(domain.EntityUserAccount), 0, "managers may only create receptionist and storekeeper accounts")
	}
	return s.createUser(ctx, req, &actor)
}

// BootstrapDirector creates the first account of an empty ledger. It needs no
// actor and fails once any account exists.
func (s *Service) BootstrapDirector(ctx context.Context, req domain.NewUserRequest) (domain.UserAccount, error) {
	unlock, err := s.store.Lock(ctx, bootstrapLock)
	if err != nil {
		return domain.UserAccount{}, err
	}
	defer unlock()

	users, err := s.repos.Users.ListAll(ctx)
	if err != nil {
		return domain.UserAccount{}, err
	}
	if len(users) > 0 {
		return domain.UserAccount{}, domain.Forbidden(string(domain.EntityUserAccount), 0, "accounts already exist")
	}
	req.Role = domain.RoleDirector
	return s.createUser(ctx, req, nil)
}

// createUser stores the account and its create record together. A nil actor
// means the account creates itself.
func (s *Service) createUser(ctx context.Context, req domain.NewUserRequest, actor *domain.Actor) (domain.UserAccount, error) {
	user := domain.UserAccount{
		Name:     strings.TrimSpace(req.Name),
		Role:     req.Role,
		Phone:    req.Phone,
		Email:    req.Email,
		IsActive: true,
	}
	if user.Role == domain.RoleDirector {
		hash, err := hashPassword(req.Password)
		if err != nil {
			return domain.UserAccount{}, err
		}
		user.PasswordHash = hash
	} else {
		hash, err := hashPIN(req.PIN)
		if err != nil {
			return domain.UserAccount{}, err
		}
		user.PINHash = hash
	}

	b := store.NewBatch()
	id, err := s.repos.Users.StageAdd(ctx, b, &user)
	if err != nil {
		return domain.UserAccount{}, err
	}
	by := domain.Actor{UserID: id, Role: user.Role, Name: user.Name}
	if actor != nil {
		by = *actor
	}
	if _, err := s.ledger.Stage(ctx, b, audit.Entry{
		EntityType:  domain.EntityUserAccount,
		EntityID:    id,
		Action:      domain.ActionCreate,
		Actor:       by,
		OperationID: audit.NewOperationID(),
	}); err != nil {
		return domain.UserAccount{}, err
	}
	if _, err := s.store.Commit(ctx, b); err != nil {
		return domain.UserAccount{}, err
	}

	s.logger.Info().Int64("user_id", id).Str("role", string(user.Role)).Int64("created_by", by.UserID).Msg("account created")
	return redact(user), nil
}

// UpdateUser applies an audited change to an account and tells its owner.
func (s *Service) UpdateUser(ctx context.Context, id int64, req domain.UserUpdateRequest, reason string) (domain.UserAccount, error) {
	actor, _ := session.ActorFromContext(ctx)
	patch := domain.UserAccountPatch{
		Name:             req.Name,
		Phone:            req.Phone,
		Email:            req.Email,
		Role:             req.Role,
		IsActive:         req.IsActive,
		TwoFactorEnabled: req.TwoFactorEnabled,
	}
	if req.Password != nil {
		hash, err := hashPassword(*req.Password)
		if err != nil {
			return domain.UserAccount{}, err
		}
		patch.PasswordHash = &hash
	}
	if req.PIN != nil {
		hash, err := hashPIN(*req.PIN)
		if err != nil {
			return domain.UserAccount{}, err
		}
		patch.PINHash = &hash
	}

	updated, changes, err := s.repos.Users.UpdateWithReason(ctx, id, patch, actor, reasonOf(reason))
	if err != nil {
		return domain.UserAccount{}, err
	}
	if len(changes) > 0 {
		s.logger.Info().Int64("user_id", id).Int("fields", len(changes)).Int64("changed_by", actor.UserID).Msg("account updated")
		s.notifyBestEffort(ctx, notify.AccountModified(updated, changes, reasonOf(reason)))
	}
	return redact(updated), nil
}

// DeactivateUser is the audited way to switch an account off.
func (s *Service) DeactivateUser(ctx context.Context, id int64, reason string) (domain.UserAccount, error) {
	inactive := false
	return s.UpdateUser(ctx, id, domain.UserUpdateRequest{IsActive: &inactive}, reason)
}

func (s *Service) FindUserByPhone(ctx context.Context, phone string) (domain.UserAccount, error) {
	if _, err := requireSupervisor(ctx, "look up accounts"); err != nil {
		return domain.UserAccount{}, err
	}
	user, err := s.repos.Users.FindByPhone(ctx, phone)
	if err != nil {
		return domain.UserAccount{}, err
	}
	return redact(user), nil
}

// ListUsers lists accounts, optionally of one role.
func (s *Service) ListUsers(ctx context.Context, role domain.Role) ([]domain.UserAccount, error) {
	if _, err := requireSupervisor(ctx, "list accounts"); err != nil {
		return nil, err
	}
	var (
		users []domain.UserAccount
		err   error
	)
	if role == "" {
		users, err = s.repos.Users.ListAll(ctx)
	} else {
		users, err = s.repos.Users.ListByRole(ctx, role)
	}
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i] = redact(users[i])
	}
	return users, nil
}

func (s *Service) CreateStaffProfile(ctx context.Context, req domain.StaffProfileRequest) (domain.StaffProfile, error) {
	if _, err := requireSupervisor(ctx, "manage staff profiles"); err != nil {
		return domain.StaffProfile{}, err
	}
	if req.UserID != nil {
		if _, err := s.repos.Users.Get(ctx, *req.UserID); err != nil {
			return domain.StaffProfile{}, err
		}
	}
	return s.repos.Staff.Add(ctx, domain.StaffProfile{
		Name:     strings.TrimSpace(req.Name),
		Kind:     req.Kind,
		Phone:    req.Phone,
		UserID:   req.UserID,
		Route:    req.Route,
		IsActive: true,
	})
}

func (s *Service) UpdateStaffProfile(ctx context.Context, id int64, patch domain.StaffProfilePatch) (domain.StaffProfile, error) {
	if _, err := requireSupervisor(ctx, "manage staff profiles"); err != nil {
		return domain.StaffProfile{}, err
	}
	return s.repos.Staff.Update(ctx, id, patch)
}

func (s *Service) ListStaff(ctx context.Context, kind domain.StaffKind) ([]domain.StaffProfile, error) {
	if _, err := requireSupervisor(ctx, "list staff profiles"); err != nil {
		return nil, err
	}
	if kind == "" {
		return s.repos.Staff.ListAll(ctx)
	}
	return s.repos.Staff.ListByKind(ctx, kind)
}

func hashPassword(password string) (string, error) {
	if len(strings.TrimSpace(password)) < minPasswordLength {
		return "", domain.InvalidInput(string(domain.EntityUserAccount), "password", "must be at least 8 characters")
	}
	return session.HashSecret(password)
}

func hashPIN(pin string) (string, error) {
	if len(pin) < 4 || len(pin) > 6 || strings.IndexFunc(pin, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0 {
		return "", domain.InvalidInput(string(domain.EntityUserAccount), "pin", "must be 4 to 6 digits")
	}
	return session.HashSecret(pin)
}

// redact strips credential hashes from an account before it leaves the service.
func redact(u domain.UserAccount) domain.UserAccount {
	u.PasswordHash = ""
	u.PINHash = ""
	return u
}
