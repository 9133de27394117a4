package repository

import "fieldledger/backend/internal/store"

const (
	CollectionSalesEntries  = "sales_entries"
	CollectionStockEntries  = "stock_entries"
	CollectionSettlements   = "settlements"
	CollectionAuditRecords  = "audit_records"
	CollectionNotifications = "notifications"
	CollectionUserAccounts  = "user_accounts"
	CollectionStaffProfiles = "staff_profiles"
)

// Index names shared by more than one collection.
const (
	IndexDate        = "by_date"
	IndexSubmittedBy = "by_submitted_by"
	IndexCreatedAt   = "by_created_at"
)

// SchemaV1 is the layout the ledger first shipped with.
var SchemaV1 = store.Schema{
	Version: 1,
	Collections: []store.CollectionSpec{
		{Name: CollectionSalesEntries, Indexes: []store.IndexSpec{
			{Name: IndexDate, Field: "date"},
			{Name: IndexSubmittedBy, Field: "submitted_by"},
			{Name: "by_sale_type", Field: "sale_type"},
			{Name: "by_driver", Field: "driver_id"},
		}},
		{Name: CollectionStockEntries, Indexes: []store.IndexSpec{
			{Name: IndexDate, Field: "date"},
			{Name: IndexSubmittedBy, Field: "submitted_by"},
			{Name: "by_entry_type", Field: "entry_type"},
		}},
		{Name: CollectionSettlements, Indexes: []store.IndexSpec{
			{Name: IndexDate, Field: "date"},
			{Name: "by_sales_entry", Field: "sales_entry_id", Unique: true},
		}},
		{Name: CollectionAuditRecords, Indexes: []store.IndexSpec{
			{Name: "by_entity_id", Field: "entity_id"},
			{Name: "by_entity_type", Field: "entity_type"},
			{Name: "by_changed_at", Field: "changed_at", Instant: true},
			{Name: "by_changed_by", Field: "changed_by"},
		}},
		{Name: CollectionNotifications, Indexes: []store.IndexSpec{
			{Name: "by_user", Field: "user_id"},
			{Name: IndexCreatedAt, Field: "created_at", Instant: true},
		}},
		{Name: CollectionUserAccounts, Indexes: []store.IndexSpec{
			{Name: "by_phone", Field: "phone", Unique: true},
			{Name: "by_email", Field: "email", Unique: true},
			{Name: "by_role", Field: "role"},
		}},
	},
}

// SchemaV2 adds staff profiles and groups audit records by operation.
var SchemaV2 = store.Schema{
	Version: 2,
	Collections: []store.CollectionSpec{
		SchemaV1.Collections[0],
		SchemaV1.Collections[1],
		SchemaV1.Collections[2],
		{Name: CollectionAuditRecords, Indexes: append(append([]store.IndexSpec{}, SchemaV1.Collections[3].Indexes...),
			store.IndexSpec{Name: "by_operation", Field: "operation_id"},
		)},
		SchemaV1.Collections[4],
		SchemaV1.Collections[5],
		{Name: CollectionStaffProfiles, Indexes: []store.IndexSpec{
			{Name: "by_user", Field: "user_id", Unique: true},
			{Name: "by_kind", Field: "kind"},
		}},
	},
}

// Schema returns the current layout.
func Schema() store.Schema {
	return SchemaV2
}
