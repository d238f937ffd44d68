package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telehealth/telehealth/internal/platform/db"
)

func querier(ctx context.Context, pool *pgxpool.Pool) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

const userCols = `id, email, password_hash, first_name, last_name, phone, role, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Phone, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := querier(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, phone, role)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Phone, u.Role).Scan(&u.CreatedAt, &u.UpdatedAt)
	switch {
	case db.IsPgError(err, db.CodeUniqueViolation):
		return ErrEmailTaken
	case err != nil:
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(querier(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(querier(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

func (r *userRepoPG) List(ctx context.Context, f UserFilter) ([]*User, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	idx := 1
	if f.Role != "" {
		where += fmt.Sprintf(" AND role = $%d", idx)
		args = append(args, f.Role)
		idx++
	}

	var total int
	if err := querier(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userCols + ` FROM users` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)
	rows, err := querier(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	err := querier(ctx, r.pool).QueryRow(ctx, `
		UPDATE users SET email = $2, password_hash = $3, first_name = $4, last_name = $5, phone = $6,
			role = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Phone, u.Role).Scan(&u.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrUserNotFound
	case db.IsPgError(err, db.CodeUniqueViolation):
		return ErrEmailTaken
	case err != nil:
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (r *userRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := querier(ctx, r.pool).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	switch {
	case db.IsPgError(err, db.CodeForeignKeyViolation):
		return ErrUserHasHistory
	case err != nil:
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepoPG) Dependents(ctx context.Context, id uuid.UUID) (UserDependents, error) {
	var d UserDependents
	err := querier(ctx, r.pool).QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM appointments WHERE patient_id = $1 AND status IN ('PENDING', 'CONFIRMED')),
			(SELECT COUNT(*) FROM payments WHERE user_id = $1 AND status = 'PENDING')`, id).
		Scan(&d.ActiveAppointments, &d.PendingPayments)
	if err != nil {
		return d, fmt.Errorf("count user dependents: %w", err)
	}
	return d, nil
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

const doctorSelect = `
	SELECT d.id, d.specialty, d.hospital_id, d.bio, u.first_name, u.last_name, u.email, u.phone,
	       d.created_at, d.updated_at
	FROM doctors d JOIN users u ON u.id = d.id`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Specialty, &d.HospitalID, &d.Bio, &d.FirstName, &d.LastName, &d.Email, &d.Phone,
		&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	err := querier(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctors (id, specialty, hospital_id, bio)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at, updated_at`,
		d.ID, d.Specialty, d.HospitalID, d.Bio).Scan(&d.CreatedAt, &d.UpdatedAt)
	switch {
	case db.IsPgError(err, db.CodeForeignKeyViolation):
		return ErrHospitalNotFound
	case err != nil:
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(querier(ctx, r.pool).QueryRow(ctx, doctorSelect+` WHERE d.id = $1`, id))
}

func (r *doctorRepoPG) List(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	idx := 1
	if f.Specialty != "" {
		where += fmt.Sprintf(" AND LOWER(d.specialty) = LOWER($%d)", idx)
		args = append(args, f.Specialty)
		idx++
	}
	if f.HospitalID != nil {
		where += fmt.Sprintf(" AND d.hospital_id = $%d", idx)
		args = append(args, *f.HospitalID)
		idx++
	}

	var total int
	if err := querier(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM doctors d`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := doctorSelect + where + fmt.Sprintf(" ORDER BY u.last_name, u.first_name LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)
	rows, err := querier(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	q := querier(ctx, r.pool)
	err := q.QueryRow(ctx, `
		UPDATE doctors SET specialty = $2, hospital_id = $3, bio = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.Specialty, d.HospitalID, d.Bio).Scan(&d.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrDoctorNotFound
	case db.IsPgError(err, db.CodeForeignKeyViolation):
		return ErrHospitalNotFound
	case err != nil:
		return fmt.Errorf("update doctor: %w", err)
	}
	if _, err := q.Exec(ctx, `
		UPDATE users SET first_name = $2, last_name = $3, phone = $4, updated_at = NOW()
		WHERE id = $1`,
		d.ID, d.FirstName, d.LastName, d.Phone); err != nil {
		return fmt.Errorf("update doctor account: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := querier(ctx, r.pool).Exec(ctx,
		`DELETE FROM users WHERE id = $1 AND id IN (SELECT id FROM doctors)`, id)
	switch {
	case db.IsPgError(err, db.CodeForeignKeyViolation):
		return ErrDoctorHasHistory
	case err != nil:
		return fmt.Errorf("delete doctor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *doctorRepoPG) Dependents(ctx context.Context, id uuid.UUID) (DoctorDependents, error) {
	var d DoctorDependents
	err := querier(ctx, r.pool).QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM appointments WHERE doctor_id = $1 AND status IN ('PENDING', 'CONFIRMED')),
			(SELECT COUNT(*) FROM availability WHERE doctor_id = $1 AND status = 'AVAILABLE')`, id).
		Scan(&d.ActiveAppointments, &d.AvailableSlots)
	if err != nil {
		return d, fmt.Errorf("count doctor dependents: %w", err)
	}
	return d, nil
}

// =========== Hospital Repository ===========

type hospitalRepoPG struct{ pool *pgxpool.Pool }

func NewHospitalRepoPG(pool *pgxpool.Pool) HospitalRepository { return &hospitalRepoPG{pool: pool} }

const hospitalCols = `id, name, address, phone, latitude, longitude, services, contact_email, rating, created_at, updated_at`

func scanHospital(row pgx.Row) (*Hospital, error) {
	var h Hospital
	err := row.Scan(&h.ID, &h.Name, &h.Address, &h.Phone, &h.Latitude, &h.Longitude, &h.Services,
		&h.ContactEmail, &h.Rating, &h.CreatedAt, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrHospitalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *hospitalRepoPG) Create(ctx context.Context, h *Hospital) error {
	h.ID = uuid.New()
	if h.Services == nil {
		h.Services = []string{}
	}
	err := querier(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO hospitals (id, name, address, phone, latitude, longitude, services, contact_email, rating)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		h.ID, h.Name, h.Address, h.Phone, h.Latitude, h.Longitude, h.Services, h.ContactEmail, h.Rating,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert hospital: %w", err)
	}
	return nil
}

func (r *hospitalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return scanHospital(querier(ctx, r.pool).QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospitals WHERE id = $1`, id))
}

func (r *hospitalRepoPG) Update(ctx context.Context, h *Hospital) error {
	if h.Services == nil {
		h.Services = []string{}
	}
	err := querier(ctx, r.pool).QueryRow(ctx, `
		UPDATE hospitals SET name = $2, address = $3, phone = $4, latitude = $5, longitude = $6,
			services = $7, contact_email = $8, rating = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		h.ID, h.Name, h.Address, h.Phone, h.Latitude, h.Longitude, h.Services, h.ContactEmail, h.Rating,
	).Scan(&h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrHospitalNotFound
	}
	return err
}

func (r *hospitalRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := querier(ctx, r.pool).Exec(ctx, `DELETE FROM hospitals WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrHospitalNotFound
	}
	return nil
}

func (r *hospitalRepoPG) List(ctx context.Context, f HospitalFilter) ([]*Hospital, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	idx := 1
	if f.Search != "" {
		where += fmt.Sprintf(" AND (LOWER(name) LIKE $%d OR LOWER(address) LIKE $%d)", idx, idx)
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		idx++
	}
	if f.Service != "" {
		where += fmt.Sprintf(" AND $%d = ANY(services)", idx)
		args = append(args, f.Service)
		idx++
	}

	var total int
	if err := querier(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM hospitals`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + hospitalCols + ` FROM hospitals` + where +
		fmt.Sprintf(" ORDER BY name LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)
	rows, err := querier(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, h)
	}
	return items, total, rows.Err()
}
