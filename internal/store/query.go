package store

import (
	"strings"
)

// MatchMode is how a filter value is compared against its columns.
type MatchMode int

const (
	// MatchExact compares for equality.
	MatchExact MatchMode = iota
	// MatchContains is a case-insensitive substring match.
	MatchContains
)

type condition struct {
	columns []string
	mode    MatchMode
	value   string
}

// BookingQuery lists bookings. Empty fields do not filter.
type BookingQuery struct {
	Status BookingStatus // exact
	UserID string        // exact
	Email  string        // exact, case-insensitive
	Search string        // contains, on name, email and venue
	Limit  int
	Offset int
}

func (q BookingQuery) conditions() []condition {
	var conds []condition
	if q.Status != "" {
		conds = append(conds, condition{columns: []string{"status"}, mode: MatchExact, value: string(q.Status)})
	}
	if q.UserID != "" {
		conds = append(conds, condition{columns: []string{"user_id"}, mode: MatchExact, value: q.UserID})
	}
	if q.Email != "" {
		conds = append(conds, condition{columns: []string{"LOWER(email)"}, mode: MatchExact, value: strings.ToLower(q.Email)})
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		conds = append(conds, condition{columns: []string{"name", "email", "venue"}, mode: MatchContains, value: s})
	}
	return conds
}

// ThreadQuery lists threads. Empty fields do not filter.
type ThreadQuery struct {
	InboxID   string // exact
	UserID    string // exact
	BookingID string // exact
	Search    string // contains, on subject and counterpart
	Limit     int
	Offset    int
}

func (q ThreadQuery) conditions() []condition {
	var conds []condition
	if q.InboxID != "" {
		conds = append(conds, condition{columns: []string{"inbox_id"}, mode: MatchExact, value: q.InboxID})
	}
	if q.UserID != "" {
		conds = append(conds, condition{columns: []string{"user_id"}, mode: MatchExact, value: q.UserID})
	}
	if q.BookingID != "" {
		conds = append(conds, condition{columns: []string{"booking_id"}, mode: MatchExact, value: q.BookingID})
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		conds = append(conds, condition{columns: []string{"subject", "counterpart"}, mode: MatchContains, value: s})
	}
	return conds
}

// whereClause renders conditions with ? placeholders. Columns of a single
// condition are OR'ed, conditions are AND'ed.
func whereClause(conds []condition) (string, []any) {
	if len(conds) == 0 {
		return "", nil
	}
	var (
		parts []string
		args  []any
	)
	for _, c := range conds {
		var ors []string
		for _, col := range c.columns {
			switch c.mode {
			case MatchContains:
				ors = append(ors, "LOWER("+col+") LIKE ? ESCAPE '\\'")
				args = append(args, "%"+escapeLike(strings.ToLower(c.value))+"%")
			default:
				ors = append(ors, col+" = ?")
				args = append(args, c.value)
			}
		}
		if len(ors) == 1 {
			parts = append(parts, ors[0])
		} else {
			parts = append(parts, "("+strings.Join(ors, " OR ")+")")
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func limitClause(limit, offset int) (string, []any) {
	if limit <= 0 {
		return "", nil
	}
	if offset < 0 {
		offset = 0
	}
	return " LIMIT ? OFFSET ?", []any{limit, offset}
}
