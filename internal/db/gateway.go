package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Joseda-hg/lazycrm/internal/gateway"
	"github.com/google/uuid"
)

// timeLayout is fixed width so text comparison in sqlite orders by time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type columnKind int

const (
	kindText columnKind = iota
	kindTime
	kindBool
)

type column struct {
	name string
	kind columnKind
}

var tables = map[string][]column{
	gateway.TableLeads: {
		{"id", kindText}, {"name", kindText}, {"company", kindText}, {"phone", kindText},
		{"email", kindText}, {"status", kindText}, {"owner", kindText}, {"origin", kindText},
		{"responsible_name", kindText}, {"responsible_phone", kindText}, {"next_action", kindText},
		{"last_interaction", kindTime}, {"created_at", kindTime},
	},
	gateway.TableNotes: {
		{"id", kindText}, {"lead_id", kindText}, {"content", kindText}, {"user_id", kindText},
		{"created_at", kindTime},
	},
	gateway.TableChats: {
		{"id", kindText}, {"name", kindText}, {"email", kindText}, {"remotejid", kindText},
		{"status", kindText}, {"ia", kindBool}, {"created_at", kindTime},
	},
	gateway.TableAgendamentos: {
		{"id", kindText}, {"cliente_id", kindText}, {"horario_inicio", kindTime},
		{"servico", kindText}, {"created_at", kindTime},
	},
}

// Gateway implements gateway.Gateway over database/sql and announces every
// successful write on its broadcaster.
type Gateway struct {
	db      *sql.DB
	dialect Dialect
	bus     gateway.Broadcaster
	logger  *log.Logger
	now     func() time.Time
}

func NewGateway(db *sql.DB, dialect Dialect, bus gateway.Broadcaster, logger *log.Logger) *Gateway {
	if bus == nil {
		bus = gateway.NewHub()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{db: db, dialect: dialect, bus: bus, logger: logger, now: time.Now}
}

func (g *Gateway) DB() *sql.DB {
	return g.db
}

func (g *Gateway) Close() error {
	return g.db.Close()
}

func (g *Gateway) Select(ctx context.Context, table string, q gateway.Query) ([]gateway.Row, error) {
	cols, err := selectColumns(table, q.Columns)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ", "), table)
	args, err := g.writeWhere(&b, table, q.Filters, nil)
	if err != nil {
		return nil, err
	}
	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, order := range q.Order {
			if _, err := lookupColumn(table, order.Column); err != nil {
				return nil, err
			}
			if order.Desc {
				parts = append(parts, order.Column+" DESC")
			} else {
				parts = append(parts, order.Column+" ASC")
			}
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	rows, err := g.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	result := []gateway.Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(gateway.Row, len(cols))
		for i, name := range cols {
			col, _ := lookupColumn(table, name)
			row[name] = decodeValue(col.kind, values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return result, nil
}

func (g *Gateway) Count(ctx context.Context, table string, filters ...gateway.Filter) (int, error) {
	if _, ok := tables[table]; !ok {
		return 0, fmt.Errorf("%w: %s", gateway.ErrUnknownTable, table)
	}

	var b strings.Builder
	b.WriteString("SELECT COUNT(*) FROM " + table)
	args, err := g.writeWhere(&b, table, filters, nil)
	if err != nil {
		return 0, err
	}

	var count int
	if err := g.db.QueryRowContext(ctx, b.String(), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

// Insert assigns id and created_at when the caller left them out and returns
// the stored row.
func (g *Gateway) Insert(ctx context.Context, table string, row gateway.Row) (gateway.Row, error) {
	if _, ok := tables[table]; !ok {
		return nil, fmt.Errorf("%w: %s", gateway.ErrUnknownTable, table)
	}

	record := make(gateway.Row, len(row)+2)
	for k, v := range row {
		record[k] = v
	}
	if record.String("id") == "" {
		record["id"] = uuid.NewString()
	}
	if hasColumn(table, "created_at") && record.Time("created_at").IsZero() {
		record["created_at"] = g.now().UTC()
	}

	names := make([]string, 0, len(record))
	placeholders := make([]string, 0, len(record))
	args := make([]any, 0, len(record))
	for _, col := range tables[table] {
		value, ok := record[col.name]
		if !ok {
			continue
		}
		names = append(names, col.name)
		args = append(args, g.encodeValue(col.kind, value))
		placeholders = append(placeholders, g.placeholder(len(args)))
	}
	for name := range record {
		if _, err := lookupColumn(table, name); err != nil {
			return nil, err
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
	if _, err := g.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}

	id := record.String("id")
	stored, err := g.Select(ctx, table, gateway.Query{Filters: []gateway.Filter{gateway.Eq("id", id)}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("insert %s: %w", table, gateway.ErrNotFound)
	}

	g.publish(ctx, gateway.Change{Type: gateway.ChangeInsert, Table: table, New: stored[0]})
	return stored[0], nil
}

func (g *Gateway) Update(ctx context.Context, table, id string, row gateway.Row) error {
	if _, ok := tables[table]; !ok {
		return fmt.Errorf("%w: %s", gateway.ErrUnknownTable, table)
	}

	sets := make([]string, 0, len(row))
	args := make([]any, 0, len(row)+1)
	changed := gateway.Row{"id": id}
	for _, col := range tables[table] {
		value, ok := row[col.name]
		if !ok || col.name == "id" {
			continue
		}
		encoded := g.encodeValue(col.kind, value)
		args = append(args, encoded)
		sets = append(sets, fmt.Sprintf("%s = %s", col.name, g.placeholder(len(args))))
		changed[col.name] = decodeValue(col.kind, encoded)
	}
	for name := range row {
		if _, err := lookupColumn(table, name); err != nil {
			return err
		}
	}
	if len(sets) == 0 {
		return fmt.Errorf("update %s: no columns to set", table)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s", table, strings.Join(sets, ", "), g.placeholder(len(args)))
	result, err := g.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("update %s %s: %w", table, id, gateway.ErrNotFound)
	}

	g.publish(ctx, gateway.Change{Type: gateway.ChangeUpdate, Table: table, New: changed})
	return nil
}

// Delete is idempotent. A change is only announced when a row went away.
func (g *Gateway) Delete(ctx context.Context, table, id string) error {
	if _, ok := tables[table]; !ok {
		return fmt.Errorf("%w: %s", gateway.ErrUnknownTable, table)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = %s", table, g.placeholder(1))
	result, err := g.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil
	}

	g.publish(ctx, gateway.Change{Type: gateway.ChangeDelete, Table: table, Old: gateway.Row{"id": id}})
	return nil
}

func (g *Gateway) Subscribe(table string, fn func(gateway.Change)) (gateway.Subscription, error) {
	if _, ok := tables[table]; !ok {
		return gateway.Subscription{}, fmt.Errorf("%w: %s", gateway.ErrUnknownTable, table)
	}
	return g.bus.Subscribe(table, fn)
}

func (g *Gateway) Unsubscribe(sub gateway.Subscription) error {
	return g.bus.Unsubscribe(sub)
}

func (g *Gateway) publish(ctx context.Context, change gateway.Change) {
	if err := g.bus.Publish(context.WithoutCancel(ctx), change); err != nil {
		g.logger.Printf("[db] publish %s %s: %v", change.Type, change.Table, err)
	}
}

func (g *Gateway) writeWhere(b *strings.Builder, table string, filters []gateway.Filter, args []any) ([]any, error) {
	if len(filters) == 0 {
		return args, nil
	}

	clauses := make([]string, 0, len(filters))
	for _, filter := range filters {
		col, err := lookupColumn(table, filter.Column)
		if err != nil {
			return nil, err
		}
		switch filter.Op {
		case gateway.OpEq:
			args = append(args, g.encodeValue(col.kind, filter.Value))
			clauses = append(clauses, fmt.Sprintf("%s = %s", col.name, g.placeholder(len(args))))
		case gateway.OpIn:
			values, _ := filter.Value.([]any)
			if len(values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			placeholders := make([]string, 0, len(values))
			for _, value := range values {
				args = append(args, g.encodeValue(col.kind, value))
				placeholders = append(placeholders, g.placeholder(len(args)))
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col.name, strings.Join(placeholders, ", ")))
		case gateway.OpNotTrue:
			clauses = append(clauses, fmt.Sprintf("(%s IS NULL OR NOT %s)", col.name, col.name))
		default:
			return nil, fmt.Errorf("unsupported filter op %d", filter.Op)
		}
	}

	b.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	return args, nil
}

func (g *Gateway) placeholder(n int) string {
	if g.dialect == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (g *Gateway) encodeValue(kind columnKind, value any) any {
	if value == nil {
		return nil
	}

	switch kind {
	case kindTime:
		var t time.Time
		switch v := value.(type) {
		case time.Time:
			t = v
		case *time.Time:
			if v == nil {
				return nil
			}
			t = *v
		case string:
			parsed, err := parseTime(v)
			if err != nil {
				return nil
			}
			t = parsed
		default:
			return nil
		}
		if t.IsZero() {
			return nil
		}
		if g.dialect == SQLite {
			return t.UTC().Format(timeLayout)
		}
		return t.UTC()
	case kindBool:
		b := gateway.Row{"v": value}.Bool("v")
		if g.dialect == SQLite {
			if b {
				return int64(1)
			}
			return int64(0)
		}
		return b
	default:
		if s, ok := value.(string); ok {
			return s
		}
		return fmt.Sprint(value)
	}
}

func decodeValue(kind columnKind, value any) any {
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	if value == nil {
		return nil
	}

	switch kind {
	case kindTime:
		switch v := value.(type) {
		case time.Time:
			return v.UTC()
		case string:
			t, err := parseTime(v)
			if err != nil {
				return nil
			}
			return t
		}
		return nil
	case kindBool:
		return gateway.Row{"v": value}.Bool("v")
	default:
		return gateway.Row{"v": value}.String("v")
	}
}

func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func selectColumns(table string, requested []string) ([]string, error) {
	cols, ok := tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gateway.ErrUnknownTable, table)
	}
	if len(requested) == 0 {
		names := make([]string, 0, len(cols))
		for _, col := range cols {
			names = append(names, col.name)
		}
		return names, nil
	}
	for _, name := range requested {
		if _, err := lookupColumn(table, name); err != nil {
			return nil, err
		}
	}
	return requested, nil
}

func lookupColumn(table, name string) (column, error) {
	cols, ok := tables[table]
	if !ok {
		return column{}, fmt.Errorf("%w: %s", gateway.ErrUnknownTable, table)
	}
	for _, col := range cols {
		if col.name == name {
			return col, nil
		}
	}
	return column{}, fmt.Errorf("%w: %s.%s", gateway.ErrUnknownColumn, table, name)
}

func hasColumn(table, name string) bool {
	_, err := lookupColumn(table, name)
	return err == nil
}
