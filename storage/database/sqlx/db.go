// Package sqlxrepos provides the PostgreSQL repositories: queries are built with squirrel and scanned with sqlx.
package sqlxrepos

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

const uniqueViolationCode = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// repository holds the default executor, used unless services pass a transaction.
type repository struct {
	exec core.DBExecutor
}

func (repo repository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

// selectRows runs q and scans all resulting rows into dest, a pointer to a slice of db-tagged structs.
func (repo repository) selectRows(ctx context.Context, exec []core.DBExecutor, q sq.Sqlizer, dest interface{}) error {
	query, args, err := q.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	rows, err := repo.getExec(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	return sqlx.StructScan(rows, dest)
}

// insert runs q and returns the id of the inserted row.
func (repo repository) insert(ctx context.Context, exec []core.DBExecutor, q sq.InsertBuilder) (int, error) {
	query, args, err := q.Suffix("RETURNING id").ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}
	var id int
	if err = repo.getExec(exec).QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// execute runs q and returns the number of affected rows.
func (repo repository) execute(ctx context.Context, exec []core.DBExecutor, q sq.Sqlizer) (int64, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// violatedConstraint returns the name of the unique constraint err violates, if any.
func violatedConstraint(err error) (string, bool) {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == uniqueViolationCode {
		return pqErr.Constraint, true
	}
	return "", false
}

func orderBy(ordering []core.DBOrdering, defaults ...string) []string {
	if len(ordering) == 0 {
		return defaults
	}
	orderList := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}
	return append(orderList, "id ASC")
}

func ilike(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(search) + "%"
}
