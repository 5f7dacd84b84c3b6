// Package gateway defines the contract the client core uses to reach the
// hosted database: row CRUD, simple filtered queries and a per-table stream
// of change events.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
	ErrNotFound      = errors.New("row not found")
)

const (
	TableLeads        = "leads"
	TableNotes        = "notes"
	TableChats        = "chats"
	TableAgendamentos = "agendamentos"
)

// Row is a record keyed by snake_case column name.
type Row map[string]any

func (r Row) Has(key string) bool {
	_, ok := r[key]
	return ok
}

func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (r Row) Time(key string) time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

// Bool reports false for null values.
func (r Row) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	default:
		return false
	}
}

type Op int

const (
	OpEq Op = iota
	OpIn
	// OpNotTrue matches null or false.
	OpNotTrue
)

type Filter struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

func In(column string, values ...any) Filter {
	return Filter{Column: column, Op: OpIn, Value: values}
}

func NotTrue(column string) Filter {
	return Filter{Column: column, Op: OpNotTrue}
}

type Order struct {
	Column string
	Desc   bool
}

type Query struct {
	Columns []string
	Filters []Filter
	Order   []Order
	Limit   int
}

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is a row-level event. Update events carry the id plus only the
// columns that were written.
type Change struct {
	Type  ChangeType `json:"type"`
	Table string     `json:"table"`
	New   Row        `json:"new,omitempty"`
	Old   Row        `json:"old,omitempty"`
}

// Subscription identifies one registered change handler.
type Subscription struct {
	ID    uint64
	Table string
}

type Gateway interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Count(ctx context.Context, table string, filters ...Filter) (int, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table, id string, row Row) error
	Delete(ctx context.Context, table, id string) error
	Subscribe(table string, fn func(Change)) (Subscription, error)
	Unsubscribe(sub Subscription) error
}

// Broadcaster fans change events out to subscribers.
type Broadcaster interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(table string, fn func(Change)) (Subscription, error)
	Unsubscribe(sub Subscription) error
}
