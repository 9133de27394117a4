package repository

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/store"
)

// StaffProfiles describes drivers and packers, who may or may not have an account.
type StaffProfiles struct {
	t      *table[domain.StaffProfile]
	region string
}

func newStaffProfiles(st *store.Store, v *validator.Validate, now func() time.Time, region string) *StaffProfiles {
	r := &StaffProfiles{region: region}
	r.t = &table[domain.StaffProfile]{
		store:    st,
		name:     CollectionStaffProfiles,
		entity:   "staff_profile",
		temporal: temporalFields{instants: []string{"created_at", "updated_at"}},
		validate: v,
		now:      now,
		setID:    func(s *domain.StaffProfile, id int64) { s.ID = id },
		stamp: func(s *domain.StaffProfile, now time.Time, created bool) {
			if created {
				s.CreatedAt = now
			}
			s.UpdatedAt = now
		},
		prepare: func(s *domain.StaffProfile) error {
			if s.Phone == "" {
				return nil
			}
			phone, err := NormalizePhone(s.Phone, r.region)
			if err != nil {
				return err
			}
			s.Phone = phone
			return nil
		},
	}
	return r
}

func (r *StaffProfiles) Add(ctx context.Context, s domain.StaffProfile) (domain.StaffProfile, error) {
	if _, err := r.t.insert(ctx, &s); err != nil {
		return domain.StaffProfile{}, err
	}
	return s, nil
}

func (r *StaffProfiles) Get(ctx context.Context, id int64) (domain.StaffProfile, error) {
	return r.t.get(ctx, id)
}

// GetByUserID returns the profile linked to an account.
func (r *StaffProfiles) GetByUserID(ctx context.Context, userID int64) (domain.StaffProfile, error) {
	profiles, err := r.t.byIndex(ctx, "by_user", store.Equal(userID))
	if err != nil {
		return domain.StaffProfile{}, err
	}
	if len(profiles) == 0 {
		notFound := domain.NotFound("staff_profile", 0)
		notFound.Field = "user_id"
		return domain.StaffProfile{}, notFound
	}
	return profiles[0], nil
}

func (r *StaffProfiles) ListByKind(ctx context.Context, kind domain.StaffKind) ([]domain.StaffProfile, error) {
	return r.t.byIndex(ctx, "by_kind", store.Equal(kind))
}

func (r *StaffProfiles) ListAll(ctx context.Context) ([]domain.StaffProfile, error) {
	return r.t.all(ctx)
}

// Update merges patch over the stored profile. Unset fields are kept.
func (r *StaffProfiles) Update(ctx context.Context, id int64, patch domain.StaffProfilePatch) (domain.StaffProfile, error) {
	return r.t.modify(ctx, id, func(cur domain.StaffProfile, _ *store.Batch) (domain.StaffProfile, bool, error) {
		changed := patch.Apply(&cur)
		return cur, changed, nil
	})
}
