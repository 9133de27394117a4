package repository

import (
	"slices"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/store"
)

// dateQuery turns an inclusive day range into a date index query. A zero bound is open.
func dateQuery(r domain.DateRange) store.Query {
	switch {
	case r.From.IsZero() && r.To.IsZero():
		return store.AtLeast("")
	case r.From.IsZero():
		return store.AtMost(r.To)
	case r.To.IsZero():
		return store.AtLeast(r.From)
	}
	return store.Between(r.From, r.To)
}

// sortByDateDesc orders by day descending, then id descending.
func sortByDateDesc[T any](items []T, key func(T) (domain.Date, int64)) {
	slices.SortStableFunc(items, func(a, b T) int {
		da, ia := key(a)
		db, ib := key(b)
		if c := db.Compare(da); c != 0 {
			return c
		}
		switch {
		case ia > ib:
			return -1
		case ia < ib:
			return 1
		}
		return 0
	})
}
