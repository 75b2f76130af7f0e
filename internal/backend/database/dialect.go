package database

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// dialect carries everything that differs between the supported SQL engines.
type dialect interface {
	name() string
	schema() []string
	isolation() sql.IsolationLevel
	// beginUnit runs once at the start of every transaction.
	beginUnit(ctx context.Context, tx *sql.Tx, timeout time.Duration) error
	lockParent(ctx context.Context, tx *sql.Tx, parentID int64) error
	nextIDQuery() string
	resyncQuery() string
	rebind(query string) string
	isIDCollision(err error) bool
}

// rebindDollar rewrites ? placeholders into $1..$n.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
