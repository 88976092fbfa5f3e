package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Placeholder returns the bind parameter for the given 1-based index.
func (c *DBContext) Placeholder(index int) string {
	switch c.dialect {
	case SQLDialectPostgres:
		return fmt.Sprintf("$%d", index)

	case SQLDialectOracle:
		return fmt.Sprintf(":%d", index)

	case SQLDialectSQLServer:
		return fmt.Sprintf("@p%d", index)

	default:
		return "?"
	}
}

// Placeholders returns n consecutive bind parameters starting at index from.
func (c *DBContext) Placeholders(from, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, c.Placeholder(from+i))
	}
	return out
}

// FormatID converts a UUID to the representation stored by the dialect.
func (c *DBContext) FormatID(id uuid.UUID) any {
	switch c.dialect {
	case SQLDialectMySQL, SQLDialectOracle, SQLDialectSQLServer:
		b, _ := id.MarshalBinary()
		return b
	case SQLDialectPostgres, SQLDialectMariaDB:
		return id
	default:
		return id.String()
	}
}

// IDParam wraps a bind parameter that carries a FormatID value so it can be
// used in a SELECT list, where the store cannot infer its type from a column.
func (c *DBContext) IDParam(placeholder string) string {
	if c.dialect == SQLDialectPostgres {
		return fmt.Sprintf("CAST(%s AS UUID)", placeholder)
	}
	return placeholder
}

// InsertIgnoreQuery builds a single row INSERT into table that has no effect
// when a row with the same conflictColumns already exists. Callers detect the
// duplicate through RowsAffected() == 0. Bind parameters follow the order of
// columns and every conflict column must be one of columns.
func (c *DBContext) InsertIgnoreQuery(table string, columns []string, conflictColumns []string) string {
	cols := strings.Join(columns, ", ")
	values := strings.Join(c.Placeholders(1, len(columns)), ", ")

	switch c.dialect {
	case SQLDialectMySQL, SQLDialectMariaDB:
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, cols, values)

	case SQLDialectOracle:
		return fmt.Sprintf("INSERT /*+ IGNORE_ROW_ON_DUPKEY_INDEX(%s (%s)) */ INTO %s (%s) VALUES (%s)",
			table, strings.Join(conflictColumns, ", "), table, cols, values)

	case SQLDialectSQLServer:
		conds := make([]string, 0, len(conflictColumns))
		for _, cc := range conflictColumns {
			conds = append(conds, fmt.Sprintf("%s = %s", cc, c.Placeholder(indexOf(columns, cc)+1)))
		}
		return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s WHERE NOT EXISTS (SELECT 1 FROM %s WITH (UPDLOCK, HOLDLOCK) WHERE %s)",
			table, cols, values, table, strings.Join(conds, " AND "))

	default:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING", table, cols, values)
	}
}

// ClaimOneQuery builds a locking read that returns at most one row of table
// and skips rows already locked by other transactions. The row stays locked
// until the enclosing transaction ends.
//
// Oracle cannot combine a row limit with SKIP LOCKED reliably, so its query has
// no limit and callers must read only the first row before closing the result.
// Oracle locks rows as they are fetched, so the driver must fetch one row at a
// time (go-ora PREFETCH_ROWS=1, enforced by the config loader) or a claim locks
// a whole prefetch batch.
// SQLite has no row locks; there the claim relies on the transaction holding the
// database write lock (BEGIN IMMEDIATE).
func (c *DBContext) ClaimOneQuery(table string, columns []string) string {
	cols := strings.Join(columns, ", ")

	switch c.dialect {
	case SQLDialectSQLite:
		return fmt.Sprintf("SELECT %s FROM %s LIMIT 1", cols, table)

	case SQLDialectOracle:
		return fmt.Sprintf("SELECT %s FROM %s FOR UPDATE SKIP LOCKED", cols, table)

	case SQLDialectSQLServer:
		return fmt.Sprintf("SELECT TOP (1) %s FROM %s WITH (UPDLOCK, ROWLOCK, READPAST)", cols, table)

	default:
		return fmt.Sprintf("SELECT %s FROM %s LIMIT 1 FOR UPDATE SKIP LOCKED", cols, table)
	}
}

func indexOf(items []string, item string) int {
	for i, it := range items {
		if it == item {
			return i
		}
	}
	panic(fmt.Sprintf("column %q is not part of the insert", item))
}
