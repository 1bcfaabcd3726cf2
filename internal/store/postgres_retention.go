package store

import (
	"context"
	"database/sql"
	"time"

	"visitorlog/internal/apperr"
	"visitorlog/internal/model"
)

// StaleVisitors selects visitors whose latest check-in is before cutoff, or
// who never checked in.
func (p *Postgres) StaleVisitors(ctx context.Context, cutoff time.Time) ([]model.Visitor, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+visitorColumns+`
		FROM visitors v
		LEFT JOIN presence_records pr ON pr.visitor_id = v.id
		GROUP BY v.id
		HAVING MAX(pr.checked_in_at) IS NULL OR MAX(pr.checked_in_at) < $1
		ORDER BY v.id
	`, cutoff)
	if err != nil {
		return nil, apperr.Storage("select stale visitors", err)
	}
	defer rows.Close()

	var res []model.Visitor
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, apperr.Storage("scan stale visitor", err)
		}
		res = append(res, v)
	}
	return res, apperr.Storage("select stale visitors", rows.Err())
}

// PurgeVisitors deletes the presence records of the given visitors and then
// the visitors themselves, in one transaction. Candidates are locked and
// re-checked against cutoff first, so a visitor who checked in after the
// selection is kept. It returns the ids that were actually deleted.
func (p *Postgres) PurgeVisitors(ctx context.Context, ids []string, cutoff time.Time) (visits int, deleted []string, err error) {
	if len(ids) == 0 {
		return 0, nil, nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, apperr.Storage("begin purge", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// A check-in takes a key-share lock on its visitor row, so once these
	// rows are locked no new visit can land until the transaction ends.
	if _, err = queryIDs(ctx, tx, `SELECT id FROM visitors WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids); err != nil {
		return 0, nil, apperr.Storage("lock purge candidates", err)
	}
	deleted, err = queryIDs(ctx, tx, `
		SELECT v.id FROM visitors v
		WHERE v.id = ANY($1)
		  AND NOT EXISTS (
			SELECT 1 FROM presence_records pr
			WHERE pr.visitor_id = v.id AND pr.checked_in_at >= $2
		  )
		ORDER BY v.id
	`, ids, cutoff)
	if err != nil {
		return 0, nil, apperr.Storage("recheck purge candidates", err)
	}
	if len(deleted) == 0 {
		if err = tx.Commit(); err != nil {
			return 0, nil, apperr.Storage("commit purge", err)
		}
		return 0, nil, nil
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM presence_records WHERE visitor_id = ANY($1)`, deleted)
	if err != nil {
		return 0, nil, apperr.Storage("delete presence records", err)
	}
	n, _ := res.RowsAffected()
	visits = int(n)

	if _, err = tx.ExecContext(ctx, `DELETE FROM visitors WHERE id = ANY($1)`, deleted); err != nil {
		return 0, nil, apperr.Storage("delete visitors", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, nil, apperr.Storage("commit purge", err)
	}
	return visits, deleted, nil
}

func queryIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
