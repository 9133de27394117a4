package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// FieldChange is one field-level difference produced by applying a patch.
type FieldChange struct {
	Field string
	Old   *string
	New   *string
}

type SalesEntryPatch struct {
	BagsAtPrice1 *int
	BagsAtPrice2 *int
	Notes        *string
}

// Apply merges the set fields over e and returns the fields whose value changed.
// TotalBags is re-derived from the bag counts.
func (p SalesEntryPatch) Apply(e *SalesEntry) []FieldChange {
	var changes []FieldChange
	if p.BagsAtPrice1 != nil && *p.BagsAtPrice1 != e.BagsAtPrice1 {
		changes = append(changes, intChange("bags_at_price1", e.BagsAtPrice1, *p.BagsAtPrice1))
		e.BagsAtPrice1 = *p.BagsAtPrice1
	}
	if p.BagsAtPrice2 != nil && *p.BagsAtPrice2 != e.BagsAtPrice2 {
		changes = append(changes, intChange("bags_at_price2", e.BagsAtPrice2, *p.BagsAtPrice2))
		e.BagsAtPrice2 = *p.BagsAtPrice2
	}
	if p.Notes != nil && *p.Notes != e.Notes {
		changes = append(changes, stringChange("notes", e.Notes, *p.Notes))
		e.Notes = *p.Notes
	}
	e.TotalBags = e.BagsAtPrice1 + e.BagsAtPrice2
	return changes
}

func (p SalesEntryPatch) Empty() bool {
	return p.BagsAtPrice1 == nil && p.BagsAtPrice2 == nil && p.Notes == nil
}

type StockEntryPatch struct {
	BagsCount *int
	Notes     *string
}

func (p StockEntryPatch) Apply(e *StockEntry) []FieldChange {
	var changes []FieldChange
	if p.BagsCount != nil && *p.BagsCount != e.BagsCount {
		changes = append(changes, intChange("bags_count", e.BagsCount, *p.BagsCount))
		e.BagsCount = *p.BagsCount
	}
	if p.Notes != nil && *p.Notes != e.Notes {
		changes = append(changes, stringChange("notes", e.Notes, *p.Notes))
		e.Notes = *p.Notes
	}
	return changes
}

func (p StockEntryPatch) Empty() bool {
	return p.BagsCount == nil && p.Notes == nil
}

// UserAccountPatch never carries secrets in clear; PINHash/PasswordHash are
// already hashed by the session layer and audited as masked values.
type UserAccountPatch struct {
	Name             *string
	Phone            *string
	Email            *string
	Role             *Role
	IsActive         *bool
	TwoFactorEnabled *bool
	PINHash          *string
	PasswordHash     *string
}

func (p UserAccountPatch) Apply(u *UserAccount) []FieldChange {
	var changes []FieldChange
	if p.Name != nil && *p.Name != u.Name {
		changes = append(changes, stringChange("name", u.Name, *p.Name))
		u.Name = *p.Name
	}
	if p.Phone != nil && *p.Phone != u.Phone {
		changes = append(changes, stringChange("phone", u.Phone, *p.Phone))
		u.Phone = *p.Phone
	}
	if p.Email != nil && *p.Email != u.Email {
		changes = append(changes, stringChange("email", u.Email, *p.Email))
		u.Email = *p.Email
	}
	if p.Role != nil && *p.Role != u.Role {
		changes = append(changes, stringChange("role", string(u.Role), string(*p.Role)))
		u.Role = *p.Role
	}
	if p.IsActive != nil && *p.IsActive != u.IsActive {
		changes = append(changes, boolChange("is_active", u.IsActive, *p.IsActive))
		u.IsActive = *p.IsActive
	}
	if p.TwoFactorEnabled != nil && *p.TwoFactorEnabled != u.TwoFactorEnabled {
		changes = append(changes, boolChange("two_factor_enabled", u.TwoFactorEnabled, *p.TwoFactorEnabled))
		u.TwoFactorEnabled = *p.TwoFactorEnabled
	}
	if p.PINHash != nil && *p.PINHash != u.PINHash {
		changes = append(changes, secretChange("pin", u.PINHash))
		u.PINHash = *p.PINHash
	}
	if p.PasswordHash != nil && *p.PasswordHash != u.PasswordHash {
		changes = append(changes, secretChange("password", u.PasswordHash))
		u.PasswordHash = *p.PasswordHash
	}
	return changes
}

type StaffProfilePatch struct {
	Name     *string
	Phone    *string
	Route    *string
	UserID   *int64
	IsActive *bool
}

func (p StaffProfilePatch) Apply(s *StaffProfile) bool {
	changed := false
	if p.Name != nil && *p.Name != s.Name {
		s.Name = *p.Name
		changed = true
	}
	if p.Phone != nil && *p.Phone != s.Phone {
		s.Phone = *p.Phone
		changed = true
	}
	if p.Route != nil && *p.Route != s.Route {
		s.Route = *p.Route
		changed = true
	}
	if p.UserID != nil && (s.UserID == nil || *s.UserID != *p.UserID) {
		id := *p.UserID
		s.UserID = &id
		changed = true
	}
	if p.IsActive != nil && *p.IsActive != s.IsActive {
		s.IsActive = *p.IsActive
		changed = true
	}
	return changed
}

// DiffSettlement lists the reconciliation fields that differ between two snapshots.
func DiffSettlement(before Settlement, after Settlement) []FieldChange {
	var changes []FieldChange
	if !before.ExpectedAmount.Equal(after.ExpectedAmount) {
		changes = append(changes, decimalChange("expected_amount", before.ExpectedAmount, after.ExpectedAmount))
	}
	if !before.SettledAmount.Equal(after.SettledAmount) {
		changes = append(changes, decimalChange("settled_amount", before.SettledAmount, after.SettledAmount))
	}
	if !before.RemainingBalance.Equal(after.RemainingBalance) {
		changes = append(changes, decimalChange("remaining_balance", before.RemainingBalance, after.RemainingBalance))
	}
	if before.IsSettled != after.IsSettled {
		changes = append(changes, boolChange("is_settled", before.IsSettled, after.IsSettled))
	}
	if !sameInstant(before.SettledAt, after.SettledAt) {
		changes = append(changes, FieldChange{Field: "settled_at", Old: instantValue(before.SettledAt), New: instantValue(after.SettledAt)})
	}
	if before.SettledBy != after.SettledBy {
		changes = append(changes, FieldChange{Field: "settled_by", Old: ptr(strconv.FormatInt(before.SettledBy, 10)), New: ptr(strconv.FormatInt(after.SettledBy, 10))})
	}
	if before.Notes != after.Notes {
		changes = append(changes, stringChange("notes", before.Notes, after.Notes))
	}
	return changes
}

func intChange(field string, old int, next int) FieldChange {
	return FieldChange{Field: field, Old: ptr(strconv.Itoa(old)), New: ptr(strconv.Itoa(next))}
}

func stringChange(field string, old string, next string) FieldChange {
	return FieldChange{Field: field, Old: ptr(old), New: ptr(next)}
}

func boolChange(field string, old bool, next bool) FieldChange {
	return FieldChange{Field: field, Old: ptr(strconv.FormatBool(old)), New: ptr(strconv.FormatBool(next))}
}

func decimalChange(field string, old decimal.Decimal, next decimal.Decimal) FieldChange {
	return FieldChange{Field: field, Old: ptr(old.String()), New: ptr(next.String())}
}

const maskedSecret = "********"

func secretChange(field string, old string) FieldChange {
	change := FieldChange{Field: field, New: ptr(maskedSecret)}
	if old != "" {
		change.Old = ptr(maskedSecret)
	}
	return change
}

func sameInstant(a *time.Time, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func instantValue(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return ptr(t.UTC().Format(time.RFC3339Nano))
}

func ptr[T any](v T) *T {
	return &v
}
