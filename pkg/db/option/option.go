package option

import (
	"fmt"
	"strings"
	"time"

	"cascade-payroll/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

// Condition expresses a single WHERE predicate on an allow-listed column.
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// QueryOption mutates a gorm query before execution.
type QueryOption func(*gorm.DB) *gorm.DB

func WithSortBy(sort QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		column := "created_at"
		if sort.SortBy != "" && sort.Allow[sort.SortBy] {
			column = sort.SortBy
		}

		order := "ASC"
		if strings.EqualFold(sort.OrderBy, "desc") {
			order = "DESC"
		}

		return tx.Order(fmt.Sprintf("%s %s", column, order))
	}
}

func WithLimit(limit int) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return tx
		}
		return tx.Limit(limit)
	}
}

func WithLockingUpdate() QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Scopes(LockingUpdate)
	}
}

func ApplyOperator(cond Condition) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where(fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), cond.Value)
	}
}

// ApplyPagination applies cursor-based pagination keyed on created_at,
// fetching limit+1 rows so the caller can detect a next page.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return ApplyPaginationOn("created_at", p)
}

// ApplyPaginationOn paginates on the given timestamp column. The column must
// match the one the caller sorts by and encodes into its cursors.
func ApplyPaginationOn(column string, p pagination.Pagination) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}

		if p.Cursor != "" {
			cursor, err := pagination.DecodeCursor(p.Cursor)
			if err == nil && cursor.CreatedAt != "" {
				// Bind as time.Time so the driver formats it the same way it
				// stores the column.
				if ts, perr := time.Parse(time.RFC3339Nano, cursor.CreatedAt); perr == nil {
					tx = tx.Where(fmt.Sprintf("%s < ?", column), ts)
				} else {
					tx = tx.Where(fmt.Sprintf("%s < ?", column), cursor.CreatedAt)
				}
			}
		}

		return tx.Limit(limit + 1)
	}
}

// LockingUpdate is a gorm scope enabling row-level FOR UPDATE locking.
func LockingUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
