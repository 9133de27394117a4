package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleDirector     Role = "director"
	RoleManager      Role = "manager"
	RoleReceptionist Role = "receptionist"
	RoleStorekeeper  Role = "storekeeper"
)

// Supervisor reports whether the role may reconcile and correct submitted entries.
func (r Role) Supervisor() bool {
	return r == RoleDirector || r == RoleManager
}

func (r Role) Valid() bool {
	switch r {
	case RoleDirector, RoleManager, RoleReceptionist, RoleStorekeeper:
		return true
	}
	return false
}

// Actor is the acting user resolved by the session layer.
type Actor struct {
	UserID int64
	Role   Role
	Name   string
}

func (a Actor) Present() bool {
	return a.UserID > 0
}

type SaleType string

const (
	SaleTypeDriver    SaleType = "driver"
	SaleTypeGeneral   SaleType = "general"
	SaleTypeMiniStore SaleType = "mini_store"
)

type StockEntryType string

const (
	StockDriverPickup     StockEntryType = "driver_pickup"
	StockGeneralSales     StockEntryType = "general_sales"
	StockPackerProduction StockEntryType = "packer_production"
	StockMinistorePickup  StockEntryType = "ministore_pickup"
)

type EntityType string

const (
	EntitySalesEntry  EntityType = "sales_entry"
	EntityStockEntry  EntityType = "stock_entry"
	EntitySettlement  EntityType = "settlement"
	EntityUserAccount EntityType = "user_account"
)

type AuditAction string

const (
	ActionCreate AuditAction = "create"
	ActionUpdate AuditAction = "update"
	ActionDelete AuditAction = "delete"
	ActionSubmit AuditAction = "submit"
	ActionSettle AuditAction = "settle"
)

type NotificationType string

const (
	NotificationSettlementComplete NotificationType = "settlement_complete"
	NotificationEntryUpdated       NotificationType = "entry_updated"
	NotificationAccountModified    NotificationType = "account_modified"
)

type StaffKind string

const (
	StaffDriver StaffKind = "driver"
	StaffPacker StaffKind = "packer"
)

type SalesEntry struct {
	ID           int64     `json:"id"`
	Date         Date      `json:"date"`
	SaleType     SaleType  `json:"sale_type" validate:"oneof=driver general mini_store"`
	DriverID     *int64    `json:"driver_id,omitempty"`
	DriverName   string    `json:"driver_name,omitempty" validate:"max=120"`
	BagsAtPrice1 int       `json:"bags_at_price1" validate:"gte=0"`
	BagsAtPrice2 int       `json:"bags_at_price2" validate:"gte=0"`
	TotalBags    int       `json:"total_bags"`
	SubmittedBy  int64     `json:"submitted_by" validate:"gt=0"`
	SubmittedAt  time.Time `json:"submitted_at"`
	IsSubmitted  bool      `json:"is_submitted"`
	Notes        string    `json:"notes,omitempty" validate:"max=1000"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type StockEntry struct {
	ID          int64          `json:"id"`
	Date        Date           `json:"date"`
	EntryType   StockEntryType `json:"entry_type" validate:"oneof=driver_pickup general_sales packer_production ministore_pickup"`
	DriverID    *int64         `json:"driver_id,omitempty"`
	PackerName  string         `json:"packer_name,omitempty" validate:"max=120"`
	BagsCount   int            `json:"bags_count" validate:"gte=0"`
	SubmittedBy int64          `json:"submitted_by" validate:"gt=0"`
	SubmittedAt time.Time      `json:"submitted_at"`
	IsSubmitted bool           `json:"is_submitted"`
	Notes       string         `json:"notes,omitempty" validate:"max=1000"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type Settlement struct {
	ID               int64           `json:"id"`
	Date             Date            `json:"date"`
	SalesEntryID     int64           `json:"sales_entry_id" validate:"gt=0"`
	ExpectedAmount   decimal.Decimal `json:"expected_amount"`
	SettledAmount    decimal.Decimal `json:"settled_amount"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	IsSettled        bool            `json:"is_settled"`
	SettledBy        int64           `json:"settled_by" validate:"gt=0"`
	SettledAt        *time.Time      `json:"settled_at,omitempty"`
	Notes            string          `json:"notes,omitempty" validate:"max=1000"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Recompute derives the remaining balance and settled flag from the amounts.
func (s *Settlement) Recompute() {
	s.RemainingBalance = s.ExpectedAmount.Sub(s.SettledAmount)
	s.IsSettled = s.RemainingBalance.LessThanOrEqual(decimal.Zero)
}

type AuditRecord struct {
	ID          int64       `json:"id"`
	EntityType  EntityType  `json:"entity_type" validate:"oneof=sales_entry stock_entry settlement user_account"`
	EntityID    int64       `json:"entity_id" validate:"gt=0"`
	Action      AuditAction `json:"action" validate:"oneof=create update delete submit settle"`
	Field       string      `json:"field,omitempty"`
	OldValue    *string     `json:"old_value,omitempty"`
	NewValue    *string     `json:"new_value,omitempty"`
	ChangedBy   int64       `json:"changed_by" validate:"gt=0"`
	ChangedAt   time.Time   `json:"changed_at"`
	Reason      string      `json:"reason,omitempty"`
	OperationID string      `json:"operation_id,omitempty"`
}

type AuditFilter struct {
	EntityType EntityType
	EntityID   int64
	Range      DateRange
	Limit      int
}

type Notification struct {
	ID                int64            `json:"id"`
	UserID            int64            `json:"user_id" validate:"gt=0"`
	Type              NotificationType `json:"type" validate:"oneof=settlement_complete entry_updated account_modified"`
	Title             string           `json:"title" validate:"required,max=200"`
	Message           string           `json:"message" validate:"max=2000"`
	IsRead            bool             `json:"is_read"`
	RelatedEntityType EntityType       `json:"related_entity_type,omitempty"`
	RelatedEntityID   *int64           `json:"related_entity_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

type UserAccount struct {
	ID               int64     `json:"id"`
	Phone            string    `json:"phone,omitempty"`
	Email            string    `json:"email,omitempty" validate:"omitempty,email"`
	PasswordHash     string    `json:"password_hash,omitempty"`
	PINHash          string    `json:"pin_hash,omitempty"`
	Role             Role      `json:"role" validate:"oneof=director manager receptionist storekeeper"`
	Name             string    `json:"name" validate:"required,max=120"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type StaffProfile struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name" validate:"required,max=120"`
	Kind      StaffKind `json:"kind" validate:"oneof=driver packer"`
	Phone     string    `json:"phone,omitempty"`
	UserID    *int64    `json:"user_id,omitempty"`
	Route     string    `json:"route,omitempty" validate:"max=120"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DailySummary totals one day of sales against its settlements.
type DailySummary struct {
	Date             Date            `json:"date"`
	Entries          int             `json:"entries"`
	TotalBags        int             `json:"total_bags"`
	ExpectedAmount   decimal.Decimal `json:"expected_amount"`
	SettledAmount    decimal.Decimal `json:"settled_amount"`
	OutstandingTotal decimal.Decimal `json:"outstanding_total"`
	UnsettledEntries int             `json:"unsettled_entries"`
}
