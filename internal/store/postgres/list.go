package postgres

import (
	"fmt"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// withListOpts appends the time window, ordering and pagination of opts to a
// query whose WHERE clause already binds len(args) parameters.
func withListOpts(query string, args []any, timeCol, orderBy string, opts domain.ListOpts) (string, []any) {
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= %s", timeCol, next(*opts.Since))
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= %s", timeCol, next(*opts.Until))
	}
	query += " ORDER BY " + orderBy
	if opts.Limit > 0 {
		query += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + next(opts.Offset)
	}
	return query, args
}
