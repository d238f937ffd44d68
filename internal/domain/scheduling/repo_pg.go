package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telehealth/telehealth/internal/platform/db"
)

// =========== Availability Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

func (r *slotRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const slotCols = `id, doctor_id, start_time, end_time, status, created_at, updated_at`

func scanSlot(row pgx.Row) (*Availability, error) {
	var a Availability
	err := row.Scan(&a.ID, &a.DoctorID, &a.StartTime, &a.EndTime, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *slotRepoPG) Create(ctx context.Context, a *Availability) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO availability (id, doctor_id, start_time, end_time, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		a.ID, a.DoctorID, a.StartTime, a.EndTime, a.Status).Scan(&a.CreatedAt, &a.UpdatedAt)
	switch {
	case db.IsPgError(err, db.CodeExclusionViolation):
		return ErrOverlap
	case db.IsPgError(err, db.CodeForeignKeyViolation):
		return ErrDoctorNotFound
	case err != nil:
		return fmt.Errorf("insert availability: %w", err)
	}
	return nil
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Availability, error) {
	return scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM availability WHERE id = $1`, id))
}

func (r *slotRepoPG) UpdateTimes(ctx context.Context, id uuid.UUID, start, end time.Time) (*Availability, error) {
	a, err := scanSlot(r.conn(ctx).QueryRow(ctx, `
		UPDATE availability SET start_time = $2, end_time = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING `+slotCols, id, start, end, SlotAvailable))
	switch {
	case errors.Is(err, ErrSlotNotFound):
		// Either gone or booked between the caller's read and this write.
		return nil, ErrStaleStatus
	case db.IsPgError(err, db.CodeExclusionViolation):
		return nil, ErrOverlap
	}
	return a, err
}

func (r *slotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability WHERE id = $1`, id)
	if db.IsPgError(err, db.CodeForeignKeyViolation) {
		return ErrLinked
	}
	if err != nil {
		return fmt.Errorf("delete availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *slotRepoPG) FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]*Availability, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM availability
		WHERE doctor_id = $1 AND start_time < $3 AND $2 < end_time AND id <> $4
		ORDER BY start_time`, doctorID, start, end, excludeID)
	if err != nil {
		return nil, fmt.Errorf("find overlapping slots: %w", err)
	}
	defer rows.Close()
	var items []*Availability
	for rows.Next() {
		a, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *slotRepoPG) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to SlotStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE availability SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update availability status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *slotRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status SlotStatus) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE availability SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update availability status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *slotRepoPG) List(ctx context.Context, f SlotFilter) ([]*Availability, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.DoctorID != nil {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.From != nil {
		where += fmt.Sprintf(` AND start_time >= $%d`, idx)
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		where += fmt.Sprintf(` AND end_time <= $%d`, idx)
		args = append(args, *f.To)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM availability`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count availability: %w", err)
	}

	query := `SELECT ` + slotCols + ` FROM availability` + where +
		fmt.Sprintf(` ORDER BY start_time ASC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list availability: %w", err)
	}
	defer rows.Close()
	items := []*Availability{}
	for rows.Next() {
		a, err := scanSlot(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, patient_id, doctor_id, availability_id, scheduled_at, type,
	consultation_type, duration_minutes, status, session_id, cancellation_reason, cancelled_at,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.AvailabilityID, &a.ScheduledAt, &a.Type,
		&a.ConsultationType, &a.Duration, &a.Status, &a.SessionID, &a.CancellationReason, &a.CancelledAt,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, availability_id, scheduled_at, type,
			consultation_type, duration_minutes, status, session_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.AvailabilityID, a.ScheduledAt, a.Type,
		a.ConsultationType, a.Duration, a.Status, a.SessionID).Scan(&a.CreatedAt, &a.UpdatedAt)
	switch {
	case db.IsPgError(err, db.CodeUniqueViolation):
		return ErrSlotUnavailable
	case db.IsPgError(err, db.CodeForeignKeyViolation):
		return fmt.Errorf("insert appointment: unknown participant or slot: %w", ErrInvalidRequest)
	case err != nil:
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) GetBySessionID(ctx context.Context, sessionID string) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE session_id = $1`, sessionID))
}

func (r *appointmentRepoPG) Transition(ctx context.Context, id uuid.UUID, ch StatusChange) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET status = $3,
			cancellation_reason = COALESCE($4, cancellation_reason),
			cancelled_at = COALESCE($5, cancelled_at),
			updated_at = $6
		WHERE id = $1 AND status = $2
		RETURNING `+apptCols, id, ch.From, ch.To, ch.CancellationReason, ch.CancelledAt, ch.At))
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStaleStatus
	}
	return a, err
}

func (r *appointmentRepoPG) CountBySlot(ctx context.Context, availabilityID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE availability_id = $1`, availabilityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count appointments for slot: %w", err)
	}
	return n, nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.ParticipantID != nil {
		where += fmt.Sprintf(` AND (patient_id = $%d OR doctor_id = $%d)`, idx, idx)
		args = append(args, *f.ParticipantID)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.DoctorID != nil {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	query := `SELECT ` + apptCols + ` FROM appointments` + where +
		fmt.Sprintf(` ORDER BY scheduled_at ASC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	items := []*Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) ListStartingBetween(ctx context.Context, status Status, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE status = $1 AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at`, status, from, to)
	if err != nil {
		return nil, fmt.Errorf("list upcoming appointments: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
