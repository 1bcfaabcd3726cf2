package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"visitorlog/internal/apperr"
	"visitorlog/internal/model"
)

// Postgres persists visitors, presence records, devices and the audit log.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a store over an open pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const visitorColumns = `v.id, v.name, v.email, v.phone, v.company, v.badge_number, v.staff_contact,
	v.visitor_type, v.training_type, v.last_training_date, v.training_expiration_date,
	v.contractor_orientation_completed, v.general_orientation_completed, v.created_at, v.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanVisitor(row scanner, extra ...any) (model.Visitor, error) {
	var (
		v            model.Visitor
		visitorType  string
		trainingType string
		lastTraining sql.NullTime
		expiration   sql.NullTime
	)
	dest := []any{
		&v.ID, &v.Name, &v.Email, &v.Phone, &v.Company, &v.BadgeNumber, &v.StaffContact,
		&visitorType, &trainingType, &lastTraining, &expiration,
		&v.ContractorOrientationCompleted, &v.GeneralOrientationCompleted, &v.CreatedAt, &v.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return model.Visitor{}, err
	}
	v.Type = model.VisitorType(visitorType)
	v.TrainingType = model.TrainingType(trainingType)
	v.LastTrainingDate = civilDate(lastTraining)
	v.TrainingExpirationDate = civilDate(expiration)
	return v, nil
}

func civilDate(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	d := model.Date(nt.Time.Year(), nt.Time.Month(), nt.Time.Day())
	return &d
}

func dateParam(t *time.Time) any {
	if t == nil {
		return nil
	}
	return model.FormatDate(*t)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// FindVisitorByName matches the trimmed name case-insensitively. Returns nil when absent.
func (p *Postgres) FindVisitorByName(ctx context.Context, name string) (*model.Visitor, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+visitorColumns+`
		FROM visitors v
		WHERE lower(v.name) = lower($1)
		ORDER BY v.created_at
		LIMIT 1
	`, strings.TrimSpace(name))
	return p.optionalVisitor(row, "find visitor by name")
}

// FindVisitorByEmail matches the email exactly. Returns nil when absent.
func (p *Postgres) FindVisitorByEmail(ctx context.Context, email string) (*model.Visitor, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+visitorColumns+`
		FROM visitors v
		WHERE v.email = $1
		ORDER BY v.created_at
		LIMIT 1
	`, strings.TrimSpace(email))
	return p.optionalVisitor(row, "find visitor by email")
}

func (p *Postgres) optionalVisitor(row *sql.Row, op string) (*model.Visitor, error) {
	v, err := scanVisitor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Storage(op, err)
	}
	return &v, nil
}

// GetVisitor loads a visitor by id.
func (p *Postgres) GetVisitor(ctx context.Context, id string) (*model.Visitor, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+visitorColumns+` FROM visitors v WHERE v.id = $1`, id)
	v, err := p.optionalVisitor(row, "get visitor")
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apperr.NotFound("visitor", id)
	}
	return v, nil
}

// CreateVisitor inserts a visitor, assigning id and timestamps.
func (p *Postgres) CreateVisitor(ctx context.Context, v *model.Visitor) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO visitors (id, name, email, phone, company, badge_number, staff_contact,
			visitor_type, training_type, last_training_date, training_expiration_date,
			contractor_orientation_completed, general_orientation_completed, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, v.ID, v.Name, v.Email, v.Phone, v.Company, v.BadgeNumber, v.StaffContact,
		string(v.Type), string(v.TrainingType), dateParam(v.LastTrainingDate), dateParam(v.TrainingExpirationDate),
		v.ContractorOrientationCompleted, v.GeneralOrientationCompleted, v.CreatedAt, v.UpdatedAt)
	return apperr.Storage("insert visitor", err)
}

// UpdateVisitor writes every mutable field of v.
func (p *Postgres) UpdateVisitor(ctx context.Context, v *model.Visitor) error {
	v.UpdatedAt = time.Now().UTC()
	res, err := p.db.ExecContext(ctx, `
		UPDATE visitors SET
			name = $2, email = $3, phone = $4, company = $5, badge_number = $6, staff_contact = $7,
			visitor_type = $8, training_type = $9, last_training_date = $10, training_expiration_date = $11,
			contractor_orientation_completed = $12, general_orientation_completed = $13, updated_at = $14
		WHERE id = $1
	`, v.ID, v.Name, v.Email, v.Phone, v.Company, v.BadgeNumber, v.StaffContact,
		string(v.Type), string(v.TrainingType), dateParam(v.LastTrainingDate), dateParam(v.TrainingExpirationDate),
		v.ContractorOrientationCompleted, v.GeneralOrientationCompleted, v.UpdatedAt)
	if err != nil {
		return apperr.Storage("update visitor", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("visitor", v.ID)
	}
	return nil
}

// SearchVisitors returns every visitor whose name, email or company contains
// query, together with the time of their latest check-in.
func (p *Postgres) SearchVisitors(ctx context.Context, query string) ([]model.Candidate, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+visitorColumns+`, last.checked_in_at
		FROM visitors v
		LEFT JOIN LATERAL (
			SELECT MAX(pr.checked_in_at) AS checked_in_at
			FROM presence_records pr WHERE pr.visitor_id = v.id
		) last ON TRUE
		WHERE v.name ILIKE $1 OR v.email ILIKE $1 OR v.company ILIKE $1
	`, pattern)
	if err != nil {
		return nil, apperr.Storage("search visitors", err)
	}
	defer rows.Close()

	var res []model.Candidate
	for rows.Next() {
		var last sql.NullTime
		v, err := scanVisitor(rows, &last)
		if err != nil {
			return nil, apperr.Storage("scan candidate", err)
		}
		c := model.Candidate{Visitor: v}
		if last.Valid {
			t := last.Time
			c.LastVisitAt = &t
		}
		res = append(res, c)
	}
	return res, apperr.Storage("search visitors", rows.Err())
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListVisitorsByTraining returns visitors with the given training type ordered by name.
func (p *Postgres) ListVisitorsByTraining(ctx context.Context, t model.TrainingType) ([]model.Visitor, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+visitorColumns+` FROM visitors v WHERE v.training_type = $1 ORDER BY lower(v.name)
	`, string(t))
	if err != nil {
		return nil, apperr.Storage("list visitors", err)
	}
	defer rows.Close()
	var res []model.Visitor
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, apperr.Storage("scan visitor", err)
		}
		res = append(res, v)
	}
	return res, apperr.Storage("list visitors", rows.Err())
}

// OpenPresence inserts an open presence record. The partial unique index
// turns a concurrent second check-in into ErrDuplicatePresence.
func (p *Postgres) OpenPresence(ctx context.Context, rec *model.PresenceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO presence_records (id, visitor_id, device_id, checked_in_at)
		VALUES ($1, $2, $3, $4)
	`, rec.ID, rec.VisitorID, nullable(rec.DeviceID), rec.CheckedInAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == openPresenceIndex {
			return apperr.ErrDuplicatePresence
		}
		return apperr.Storage("insert presence", err)
	}
	return nil
}

// ClosePresence stamps the most recent open record of the visitor.
func (p *Postgres) ClosePresence(ctx context.Context, visitorID string, at time.Time) (model.PresenceRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE presence_records SET checked_out_at = $2
		WHERE id = (
			SELECT id FROM presence_records
			WHERE visitor_id = $1 AND checked_out_at IS NULL
			ORDER BY checked_in_at DESC
			LIMIT 1
		)
		RETURNING id, visitor_id, device_id, checked_in_at, checked_out_at
	`, visitorID, at)
	rec, err := scanPresence(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PresenceRecord{}, apperr.ErrNotPresent
		}
		return model.PresenceRecord{}, apperr.Storage("close presence", err)
	}
	return rec, nil
}

func scanPresence(row scanner, extra ...any) (model.PresenceRecord, error) {
	var (
		rec      model.PresenceRecord
		deviceID sql.NullString
		outAt    sql.NullTime
	)
	dest := []any{&rec.ID, &rec.VisitorID, &deviceID, &rec.CheckedInAt, &outAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return model.PresenceRecord{}, err
	}
	rec.DeviceID = deviceID.String
	if outAt.Valid {
		t := outAt.Time
		rec.CheckedOutAt = &t
	}
	return rec, nil
}

// HasOpenPresence reports whether the visitor is currently on site.
func (p *Postgres) HasOpenPresence(ctx context.Context, visitorID string) (bool, error) {
	var present bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM presence_records WHERE visitor_id = $1 AND checked_out_at IS NULL)
	`, visitorID).Scan(&present)
	return present, apperr.Storage("check presence", err)
}

// ListOpenPresence returns every open visit, newest check-in first.
func (p *Postgres) ListOpenPresence(ctx context.Context) ([]model.Visit, error) {
	return p.queryVisits(ctx, `
		SELECT pr.id, pr.visitor_id, pr.device_id, pr.checked_in_at, pr.checked_out_at, `+visitorColumns+`
		FROM presence_records pr
		JOIN visitors v ON v.id = pr.visitor_id
		WHERE pr.checked_out_at IS NULL
		ORDER BY pr.checked_in_at DESC
	`)
}

// ListVisits returns visits whose check-in falls in [From, To), newest first.
func (p *Postgres) ListVisits(ctx context.Context, f model.VisitFilter) ([]model.Visit, error) {
	query := `
		SELECT pr.id, pr.visitor_id, pr.device_id, pr.checked_in_at, pr.checked_out_at, ` + visitorColumns + `
		FROM presence_records pr
		JOIN visitors v ON v.id = pr.visitor_id`
	var (
		args    []any
		clauses []string
	)
	if !f.From.IsZero() {
		args = append(args, f.From)
		clauses = append(clauses, fmt.Sprintf("pr.checked_in_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		clauses = append(clauses, fmt.Sprintf("pr.checked_in_at < $%d", len(args)))
	}
	if f.VisitorID != "" {
		args = append(args, f.VisitorID)
		clauses = append(clauses, fmt.Sprintf("pr.visitor_id = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY pr.checked_in_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return p.queryVisits(ctx, query, args...)
}

func (p *Postgres) queryVisits(ctx context.Context, query string, args ...any) ([]model.Visit, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("list visits", err)
	}
	defer rows.Close()

	var res []model.Visit
	for rows.Next() {
		var (
			visit    model.Visit
			deviceID sql.NullString
			outAt    sql.NullTime
		)
		v, err := scanVisitor(visitRow{rows: rows, presence: &visit.PresenceRecord, deviceID: &deviceID, outAt: &outAt})
		if err != nil {
			return nil, apperr.Storage("scan visit", err)
		}
		visit.DeviceID = deviceID.String
		if outAt.Valid {
			t := outAt.Time
			visit.CheckedOutAt = &t
		}
		visit.Visitor = v
		res = append(res, visit)
	}
	return res, apperr.Storage("list visits", rows.Err())
}

// visitRow prepends the presence columns to the visitor scan destinations.
type visitRow struct {
	rows     *sql.Rows
	presence *model.PresenceRecord
	deviceID *sql.NullString
	outAt    *sql.NullTime
}

func (r visitRow) Scan(dest ...any) error {
	head := []any{&r.presence.ID, &r.presence.VisitorID, r.deviceID, &r.presence.CheckedInAt, r.outAt}
	return r.rows.Scan(append(head, dest...)...)
}
