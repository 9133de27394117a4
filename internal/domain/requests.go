package domain

import "github.com/shopspring/decimal"

// SalesSubmission is what a receptionist records for one sale.
type SalesSubmission struct {
	Date         Date
	SaleType     SaleType
	DriverID     *int64
	DriverName   string
	BagsAtPrice1 int
	BagsAtPrice2 int
	Notes        string
}

type StockSubmission struct {
	Date       Date
	EntryType  StockEntryType
	DriverID   *int64
	PackerName string
	BagsCount  int
	Notes      string
}

type SettlementRequest struct {
	SalesEntryID  int64
	SettledAmount decimal.Decimal
	Notes         string
}

// NewUserRequest carries secrets in clear; they are hashed before storage.
type NewUserRequest struct {
	Name     string
	Role     Role
	Phone    string
	Email    string
	Password string
	PIN      string
}

type UserUpdateRequest struct {
	Name             *string
	Phone            *string
	Email            *string
	Role             *Role
	IsActive         *bool
	TwoFactorEnabled *bool
	Password         *string
	PIN              *string
}

type StaffProfileRequest struct {
	Name   string
	Kind   StaffKind
	Phone  string
	UserID *int64
	Route  string
}
