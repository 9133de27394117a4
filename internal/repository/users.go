package repository

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/store"
)

const (
	indexPhone = "by_phone"
	indexEmail = "by_email"
)

// UserAccounts stores accounts with phone numbers in E.164 and emails in lower
// case, so the unique indexes compare canonical values.
type UserAccounts struct {
	t       *table[domain.UserAccount]
	region  string
	auditor Auditor
}

func newUserAccounts(st *store.Store, v *validator.Validate, now func() time.Time, region string) *UserAccounts {
	r := &UserAccounts{region: region}
	r.t = &table[domain.UserAccount]{
		store:    st,
		name:     CollectionUserAccounts,
		entity:   string(domain.EntityUserAccount),
		temporal: temporalFields{instants: []string{"created_at", "updated_at"}},
		validate: v,
		now:      now,
		setID:    func(u *domain.UserAccount, id int64) { u.ID = id },
		stamp: func(u *domain.UserAccount, now time.Time, created bool) {
			if created {
				u.CreatedAt = now
			}
			u.UpdatedAt = now
		},
		prepare: r.prepare,
	}
	return r
}

// NormalizePhone parses raw in the configured default region and formats it as E.164.
func (r *UserAccounts) NormalizePhone(raw string) (string, error) {
	return NormalizePhone(raw, r.region)
}

func NormalizePhone(raw string, region string) (string, error) {
	num, err := libphonenumber.Parse(strings.TrimSpace(raw), region)
	if err != nil {
		return "", domain.InvalidInput(string(domain.EntityUserAccount), "phone", err.Error())
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", domain.InvalidInput(string(domain.EntityUserAccount), "phone", "phone number is not valid")
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

func (r *UserAccounts) prepare(u *domain.UserAccount) error {
	if u.Phone != "" {
		phone, err := r.NormalizePhone(u.Phone)
		if err != nil {
			return err
		}
		u.Phone = phone
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	// directors sign in with email and password, everyone else with phone and PIN
	if u.Role == domain.RoleDirector {
		if u.Email == "" {
			return domain.InvalidInput(string(domain.EntityUserAccount), "email", "directors need an email")
		}
	} else if u.Phone == "" {
		return domain.InvalidInput(string(domain.EntityUserAccount), "phone", "staff accounts need a phone number")
	}
	return nil
}

// StageAdd validates u, assigns its id and adds the insert to b.
func (r *UserAccounts) StageAdd(ctx context.Context, b *store.Batch, u *domain.UserAccount) (int64, error) {
	return r.t.stageInsert(ctx, b, u)
}

// Add creates an account. A phone or email already held by another account is
// a constraint violation.
func (r *UserAccounts) Add(ctx context.Context, u domain.UserAccount) (domain.UserAccount, error) {
	if _, err := r.t.insert(ctx, &u); err != nil {
		return domain.UserAccount{}, err
	}
	return u, nil
}

func (r *UserAccounts) Get(ctx context.Context, id int64) (domain.UserAccount, error) {
	return r.t.get(ctx, id)
}

func (r *UserAccounts) FindByPhone(ctx context.Context, phone string) (domain.UserAccount, error) {
	normalized, err := r.NormalizePhone(phone)
	if err != nil {
		return domain.UserAccount{}, err
	}
	return r.findOne(ctx, indexPhone, "phone", normalized)
}

func (r *UserAccounts) FindByEmail(ctx context.Context, email string) (domain.UserAccount, error) {
	return r.findOne(ctx, indexEmail, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (r *UserAccounts) findOne(ctx context.Context, index string, field string, value string) (domain.UserAccount, error) {
	users, err := r.t.byIndex(ctx, index, store.Equal(value))
	if err != nil {
		return domain.UserAccount{}, err
	}
	if len(users) == 0 {
		notFound := domain.NotFound(string(domain.EntityUserAccount), 0)
		notFound.Field = field
		return domain.UserAccount{}, notFound
	}
	return users[0], nil
}

func (r *UserAccounts) ListAll(ctx context.Context) ([]domain.UserAccount, error) {
	return r.t.all(ctx)
}

func (r *UserAccounts) ListByRole(ctx context.Context, role domain.Role) ([]domain.UserAccount, error) {
	return r.t.byIndex(ctx, "by_role", store.Equal(role))
}

// UpdateWithReason applies an audited change to an account. Directors may
// change any account; a user may change only their own credentials.
func (r *UserAccounts) UpdateWithReason(ctx context.Context, id int64, patch domain.UserAccountPatch, actor domain.Actor, reason string) (domain.UserAccount, []domain.FieldChange, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.UserAccount{}, nil, domain.ReasonRequired(string(domain.EntityUserAccount), id)
	}
	if !actor.Present() {
		return domain.UserAccount{}, nil, domain.Unauthenticated("update " + string(domain.EntityUserAccount))
	}
	if actor.Role != domain.RoleDirector && !(actor.UserID == id && credentialsOnly(patch)) {
		return domain.UserAccount{}, nil, domain.Forbidden(string(domain.EntityUserAccount), id, "only directors administer accounts")
	}
	if r.auditor == nil {
		return domain.UserAccount{}, nil, ErrNoAuditor
	}
	if patch.Phone != nil && *patch.Phone != "" {
		phone, err := r.NormalizePhone(*patch.Phone)
		if err != nil {
			return domain.UserAccount{}, nil, err
		}
		patch.Phone = &phone
	}
	if patch.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*patch.Email))
		patch.Email = &email
	}
	if patch.Role != nil && !patch.Role.Valid() {
		return domain.UserAccount{}, nil, domain.InvalidInput(string(domain.EntityUserAccount), "role", "unknown role")
	}

	var changes []domain.FieldChange
	updated, err := r.t.modify(ctx, id, func(cur domain.UserAccount, b *store.Batch) (domain.UserAccount, bool, error) {
		changes = patch.Apply(&cur)
		if len(changes) == 0 {
			return cur, false, nil
		}
		if err := r.auditor.StageChanges(ctx, b, domain.EntityUserAccount, id, changes, actor, reason); err != nil {
			return cur, false, err
		}
		return cur, true, nil
	})
	if err != nil {
		return domain.UserAccount{}, nil, err
	}
	return updated, changes, nil
}

func credentialsOnly(p domain.UserAccountPatch) bool {
	return p.Name == nil && p.Phone == nil && p.Email == nil && p.Role == nil &&
		p.IsActive == nil && p.TwoFactorEnabled == nil &&
		(p.PINHash != nil || p.PasswordHash != nil)
}
