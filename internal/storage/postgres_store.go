package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-booking/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore is the relational backend. Conditional writes are single
// UPDATE ... WHERE <guard> RETURNING statements; message appends lock the
// conversation row for the duration of a transaction.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies the embedded schema files in name order. Every
// statement is idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, e := range entries {
		b, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (p *PostgresStore) Close(context.Context) error { return p.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func pgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return ErrDuplicate
	}
	return unavailable(err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func coordArgs(c *models.Coord) (any, any) {
	if c == nil {
		return nil, nil
	}
	return c.Lat, c.Lon
}

const userColumns = `id, name, email, phone, password_hash, role, motor_type, motor_model, license_number,
	is_available, rating, total_trips, last_lat, last_lon, created_at`

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                    models.User
		role                 string
		tier, model, license sql.NullString
		available            bool
		rating, lat, lon     float64
		trips                int
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &role, &tier, &model, &license,
		&available, &rating, &trips, &lat, &lon, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	if u.Role == models.RoleDriver {
		u.Driver = &models.DriverProfile{
			Tier:          models.Tier(tier.String),
			VehicleModel:  model.String,
			LicenseNumber: license.String,
			Available:     available,
			Rating:        rating,
			TotalTrips:    trips,
			LastLocation:  models.Coord{Lat: lat, Lon: lon},
		}
	}
	return &u, nil
}

func (p *PostgresStore) InsertUser(ctx context.Context, u *models.User) error {
	var (
		tier, model, license sql.NullString
		available            = true
		rating               = models.DefaultDriverRating
		trips                int
		lat, lon             float64
	)
	if d := u.Driver; d != nil {
		tier, model, license = nullString(string(d.Tier)), nullString(d.VehicleModel), nullString(d.LicenseNumber)
		available, rating, trips = d.Available, d.Rating, d.TotalTrips
		lat, lon = d.LastLocation.Lat, d.LastLocation.Lon
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		u.ID, u.Name, strings.ToLower(u.Email), u.Phone, u.PasswordHash, string(u.Role), tier, model, license,
		available, rating, trips, lat, lon, u.CreatedAt)
	return pgErr(err)
}

func (p *PostgresStore) User(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return u, pgErr(err)
}

func (p *PostgresStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
	return u, pgErr(err)
}

func (p *PostgresStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	out := make([]*models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, pgErr(err)
		}
		out = append(out, u)
	}
	return out, pgErr(rows.Err())
}

func (p *PostgresStore) SetAvailability(ctx context.Context, id string, available bool) (*models.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx,
		`UPDATE users SET is_available = $2 WHERE id = $1 AND role = 'driver' RETURNING `+userColumns, id, available))
	return u, pgErr(err)
}

// execDriver runs a single-row update against a driver record.
func (p *PostgresStore) execDriver(ctx context.Context, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return pgErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) SetLocation(ctx context.Context, id string, loc models.Coord) error {
	return p.execDriver(ctx, `UPDATE users SET last_lat = $2, last_lon = $3 WHERE id = $1 AND role = 'driver'`, id, loc.Lat, loc.Lon)
}

func (p *PostgresStore) IncrementTrips(ctx context.Context, id string) error {
	return p.execDriver(ctx, `UPDATE users SET total_trips = total_trips + 1 WHERE id = $1 AND role = 'driver'`, id)
}

func (p *PostgresStore) SetDriverRating(ctx context.Context, id string, rating float64) error {
	return p.execDriver(ctx, `UPDATE users SET rating = $2 WHERE id = $1 AND role = 'driver'`, id, rating)
}

const bookingColumns = `id, customer_id, driver_id, pickup_location, destination, pickup_lat, pickup_lon,
	dest_lat, dest_lon, motor_type, pickup_time, estimated_price, status, payment_status, payment_ref,
	rating_score, rating_review, created_at, updated_at`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                          models.Booking
		driver, paymentRef, review sql.NullString
		plat, plon, dlat, dlon     sql.NullFloat64
		score                      sql.NullInt64
		tier, status, payment      string
	)
	err := row.Scan(&b.ID, &b.CustomerID, &driver, &b.PickupLocation, &b.Destination, &plat, &plon,
		&dlat, &dlon, &tier, &b.PickupTime, &b.EstimatedPrice, &status, &payment, &paymentRef,
		&score, &review, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.DriverID = driver.String
	b.PaymentRef = paymentRef.String
	b.Tier = models.Tier(tier)
	b.Status = models.Status(status)
	b.PaymentStatus = models.PaymentStatus(payment)
	if plat.Valid && plon.Valid {
		b.PickupPoint = &models.Coord{Lat: plat.Float64, Lon: plon.Float64}
	}
	if dlat.Valid && dlon.Valid {
		b.DestinationPoint = &models.Coord{Lat: dlat.Float64, Lon: dlon.Float64}
	}
	if score.Valid {
		b.Rating = &models.Rating{Score: int(score.Int64), Review: review.String}
	}
	return &b, nil
}

func (p *PostgresStore) InsertBooking(ctx context.Context, b *models.Booking) error {
	plat, plon := coordArgs(b.PickupPoint)
	dlat, dlon := coordArgs(b.DestinationPoint)
	var score, review any
	if b.Rating != nil {
		score, review = b.Rating.Score, b.Rating.Review
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		b.ID, b.CustomerID, nullString(b.DriverID), b.PickupLocation, b.Destination, plat, plon,
		dlat, dlon, string(b.Tier), b.PickupTime, b.EstimatedPrice, string(b.Status), string(b.PaymentStatus),
		nullString(b.PaymentRef), score, review, b.CreatedAt, b.UpdatedAt)
	return pgErr(err)
}

func (p *PostgresStore) Booking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	return b, pgErr(err)
}

func (p *PostgresStore) FindBookings(ctx context.Context, q BookingQuery) ([]*models.Booking, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.CustomerID != "" {
		conds = append(conds, "customer_id = "+arg(q.CustomerID))
	}
	if q.DriverID != "" {
		conds = append(conds, "driver_id = "+arg(q.DriverID))
	}
	if q.Unassigned {
		conds = append(conds, "driver_id IS NULL")
	}
	if q.Tier != "" {
		conds = append(conds, "motor_type = "+arg(string(q.Tier)))
	}
	if len(q.Statuses) > 0 {
		ss := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			ss[i] = string(s)
		}
		conds = append(conds, "status = ANY("+arg(pq.Array(ss))+")")
	}
	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	out := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, pgErr(err)
		}
		out = append(out, b)
	}
	return out, pgErr(rows.Err())
}

// guardedUpdate runs an UPDATE ... RETURNING whose WHERE clause carries a
// guard. No row back means either the booking is missing or the guard failed.
func (p *PostgresStore) guardedUpdate(ctx context.Context, id, query string, args ...any) (*models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, unavailable(err)
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, pgErr(err)
	}
	return b, nil
}

func (p *PostgresStore) AssignDriver(ctx context.Context, id, driverID string, tier models.Tier, at time.Time) (*models.Booking, error) {
	return p.guardedUpdate(ctx, id, `UPDATE bookings
		SET driver_id = $2, status = 'accepted', updated_at = $4
		WHERE id = $1 AND status = 'pending' AND driver_id IS NULL AND motor_type = $3
		RETURNING `+bookingColumns, id, driverID, string(tier), at)
}

func (p *PostgresStore) UpdateBooking(ctx context.Context, id string, expect models.Status, patch models.BookingPatch, at time.Time) (*models.Booking, error) {
	args := []any{id, string(expect)}
	var sets []string
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.PickupLocation != nil {
		set("pickup_location", *patch.PickupLocation)
	}
	if patch.Destination != nil {
		set("destination", *patch.Destination)
	}
	if patch.PickupTime != nil {
		set("pickup_time", *patch.PickupTime)
	}
	if patch.Tier != nil {
		set("motor_type", string(*patch.Tier))
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.PaymentStatus != nil {
		set("payment_status", string(*patch.PaymentStatus))
	}
	set("updated_at", at)
	query := fmt.Sprintf(`UPDATE bookings SET %s WHERE id = $1 AND status = $2 RETURNING %s`,
		strings.Join(sets, ", "), bookingColumns)
	return p.guardedUpdate(ctx, id, query, args...)
}

func (p *PostgresStore) SetRating(ctx context.Context, id string, r models.Rating, at time.Time) (*models.Booking, error) {
	return p.guardedUpdate(ctx, id, `UPDATE bookings
		SET rating_score = $2, rating_review = $3, updated_at = $4
		WHERE id = $1 AND status = 'completed' AND rating_score IS NULL
		RETURNING `+bookingColumns, id, r.Score, r.Review, at)
}

func (p *PostgresStore) MarkPaid(ctx context.Context, id, ref string, at time.Time) (*models.Booking, error) {
	return p.guardedUpdate(ctx, id, `UPDATE bookings
		SET payment_status = 'paid', payment_ref = $2, updated_at = $3
		WHERE id = $1 AND status = 'completed' AND payment_status = 'unpaid'
		RETURNING `+bookingColumns, id, ref, at)
}

func (p *PostgresStore) DriverScores(ctx context.Context, driverID string) (int, int, error) {
	var sum, count int
	err := p.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(rating_score), 0), COUNT(rating_score)
		FROM bookings WHERE driver_id = $1 AND rating_score IS NOT NULL`, driverID).Scan(&sum, &count)
	if err != nil {
		return 0, 0, unavailable(err)
	}
	return sum, count, nil
}

func loadConversation(ctx context.Context, q querier, bookingID string) (*models.Conversation, error) {
	var c models.Conversation
	err := q.QueryRowContext(ctx, `SELECT booking_id, customer_id, driver_id, last_updated, created_at
		FROM conversations WHERE booking_id = $1`, bookingID).
		Scan(&c.BookingID, &c.CustomerID, &c.DriverID, &c.LastUpdated, &c.CreatedAt)
	if err != nil {
		return nil, pgErr(err)
	}
	rows, err := q.QueryContext(ctx, `SELECT id, sender_id, content, read_status, created_at
		FROM messages WHERE booking_id = $1 ORDER BY seq`, bookingID)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	c.Messages = []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Content, &m.Read, &m.CreatedAt); err != nil {
			return nil, pgErr(err)
		}
		c.Messages = append(c.Messages, m)
	}
	return &c, pgErr(rows.Err())
}

func (p *PostgresStore) Conversation(ctx context.Context, bookingID string) (*models.Conversation, error) {
	return loadConversation(ctx, p.db, bookingID)
}

func (p *PostgresStore) CreateConversation(ctx context.Context, c *models.Conversation) (*models.Conversation, error) {
	_, err := p.db.ExecContext(ctx, `INSERT INTO conversations (booking_id, customer_id, driver_id, last_updated, created_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (booking_id) DO NOTHING`,
		c.BookingID, c.CustomerID, c.DriverID, c.LastUpdated, c.CreatedAt)
	if err != nil {
		return nil, pgErr(err)
	}
	return loadConversation(ctx, p.db, c.BookingID)
}

func (p *PostgresStore) AppendMessage(ctx context.Context, bookingID string, m models.Message) (*models.Conversation, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(err)
	}
	defer tx.Rollback()

	var locked string
	if err := tx.QueryRowContext(ctx, `SELECT booking_id FROM conversations WHERE booking_id = $1 FOR UPDATE`, bookingID).Scan(&locked); err != nil {
		return nil, pgErr(err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO messages (id, booking_id, sender_id, content, read_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, m.ID, bookingID, m.SenderID, m.Content, m.Read, m.CreatedAt); err != nil {
		return nil, pgErr(err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET last_updated = GREATEST(last_updated, $2) WHERE booking_id = $1`,
		bookingID, m.CreatedAt); err != nil {
		return nil, pgErr(err)
	}
	c, err := loadConversation(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(err)
	}
	return c, nil
}

// MarkRead counts affected rows. A concurrent reader re-checks
// read_status after the row lock, so no message is counted twice.
func (p *PostgresStore) MarkRead(ctx context.Context, bookingID, readerID string) (int, error) {
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE booking_id = $1)`, bookingID).Scan(&exists); err != nil {
		return 0, unavailable(err)
	}
	if !exists {
		return 0, ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `UPDATE messages SET read_status = TRUE
		WHERE booking_id = $1 AND sender_id <> $2 AND read_status = FALSE`, bookingID, readerID)
	if err != nil {
		return 0, pgErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

func (p *PostgresStore) ConversationsOf(ctx context.Context, actorID string) ([]*models.Conversation, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT booking_id FROM conversations
		WHERE customer_id = $1 OR driver_id = $1 ORDER BY last_updated DESC`, actorID)
	if err != nil {
		return nil, pgErr(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, pgErr(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, pgErr(err)
	}
	out := make([]*models.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := loadConversation(ctx, p.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
