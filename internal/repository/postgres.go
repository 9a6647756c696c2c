package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore implements Store on PostgreSQL using pgx directly (no ORM).
//
// Counter updates are conditional on the version column:
//
//	UPDATE offerings SET reserved = $1, version = version + 1
//	WHERE id = $2 AND version = $3
//
// Two transactions that read the same version race on that row; the second
// one blocks on the row lock, re-evaluates the WHERE clause after the first
// commits, matches zero rows and reports ErrTransactionConflict. The caller
// then re-reads and re-checks capacity instead of writing from a stale read.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const offeringColumns = `id, seller_id, name, region, unit_price::text, description,
	harvest_start, harvest_end, booking_start, booking_end,
	quantity_limit, reserved, version, created_at, updated_at`

const bookingColumns = `id, buyer_id, status, shipping, payment, cancel_reason,
	cancelled_at, version, created_at, updated_at`

func (s *PostgresStore) Close(context.Context) error {
	s.db.Close()
	return nil
}

// RunInTx runs fn inside a single pgx transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn TxFunc) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapPgError(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, &postgresTx{tx: tx}); err != nil {
		return mapPgError(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", mapPgError(err))
	}
	return nil
}

// CreateOffering inserts a new offering with a generated id and zero reserved.
func (s *PostgresStore) CreateOffering(ctx context.Context, o *model.Offering) error {
	o.ID = newID()
	o.Reserved = 0
	o.Version = 1
	err := s.db.QueryRow(ctx,
		`INSERT INTO offerings (id, seller_id, name, region, unit_price, description,
			harvest_start, harvest_end, booking_start, booking_end, quantity_limit)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		o.ID, o.SellerID, o.Name, o.Region, o.UnitPrice.String(), o.Description,
		o.HarvestStart, o.HarvestEnd, o.BookingStart, o.BookingEnd, o.Limit,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert offering: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	return getOffering(ctx, s.db, id)
}

func (s *PostgresStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return getBooking(ctx, s.db, id)
}

// ListBookingsByBuyer returns a buyer's bookings, newest first.
func (s *PostgresStore) ListBookingsByBuyer(ctx context.Context, buyerID string) ([]model.Booking, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE buyer_id = $1
		 ORDER BY created_at DESC`,
		buyerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []model.Booking
	index := make(map[string]int)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		index[b.ID] = len(bookings)
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	if len(bookings) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
	}
	items, err := listItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for id, lines := range items {
		bookings[index[id]].Items = lines
	}
	return bookings, nil
}

// UpdateBookingStatus moves a booking from one status to another in a single
// conditional statement; no transaction is needed because it has no inventory
// effect.
func (s *PostgresStore) UpdateBookingStatus(ctx context.Context, id string, from, to model.BookingStatus) (*model.Booking, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE bookings
		 SET status = $1, updated_at = now(), version = version + 1
		 WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return nil, fmt.Errorf("update booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetBooking(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("booking %s is no longer %s: %w", id, from, ErrTransactionConflict)
	}
	return s.GetBooking(ctx, id)
}

// PutCartItem upserts a staged cart quantity.
func (s *PostgresStore) PutCartItem(ctx context.Context, item *model.CartItem) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO cart_items (buyer_id, offering_id, quantity)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (buyer_id, offering_id)
		 DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()
		 RETURNING updated_at`,
		item.BuyerID, item.OfferingID, item.Quantity,
	).Scan(&item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCart(ctx context.Context, buyerID string) ([]model.CartItem, error) {
	rows, err := s.db.Query(ctx,
		`SELECT buyer_id, offering_id, quantity, updated_at
		 FROM cart_items
		 WHERE buyer_id = $1
		 ORDER BY offering_id`,
		buyerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	defer rows.Close()

	var items []model.CartItem
	for rows.Next() {
		var it model.CartItem
		if err := rows.Scan(&it.BuyerID, &it.OfferingID, &it.Quantity, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type postgresTx struct {
	tx pgx.Tx
}

// Now returns the transaction timestamp of the database server.
func (t *postgresTx) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := t.tx.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("read server clock: %w", err)
	}
	return now.UTC(), nil
}

func (t *postgresTx) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	return getOffering(ctx, t.tx, id)
}

func (t *postgresTx) UpdateOffering(ctx context.Context, o *model.Offering) error {
	var updatedAt time.Time
	err := t.tx.QueryRow(ctx,
		`UPDATE offerings
		 SET reserved = $1, version = version + 1, updated_at = now()
		 WHERE id = $2 AND version = $3
		 RETURNING updated_at`,
		o.Reserved, o.ID, o.Version,
	).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("offering %s: %w", o.ID, ErrTransactionConflict)
		}
		return fmt.Errorf("update offering: %w", err)
	}
	o.Version++
	o.UpdatedAt = updatedAt
	return nil
}

func (t *postgresTx) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return getBooking(ctx, t.tx, id)
}

func (t *postgresTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	b.ID = newID()
	b.Version = 1
	_, err := t.tx.Exec(ctx,
		`INSERT INTO bookings (id, buyer_id, status, shipping, payment, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.BuyerID, string(b.Status), b.Shipping, b.Payment, b.Version, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	batch := &pgx.Batch{}
	for i, li := range b.Items {
		batch.Queue(
			`INSERT INTO booking_items (booking_id, position, offering_id, quantity, unit_price)
			 VALUES ($1, $2, $3, $4, $5::numeric)`,
			b.ID, i, li.OfferingID, li.Quantity, li.UnitPrice.String(),
		)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert booking items: %w", err)
	}
	return nil
}

func (t *postgresTx) UpdateBooking(ctx context.Context, b *model.Booking) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE bookings
		 SET status = $1, cancel_reason = $2, cancelled_at = $3, updated_at = $4,
		     version = version + 1
		 WHERE id = $5 AND version = $6`,
		string(b.Status), b.CancelReason, b.CancelledAt, b.UpdatedAt, b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking %s: %w", b.ID, ErrTransactionConflict)
	}
	b.Version++
	return nil
}

func (t *postgresTx) ClearCart(ctx context.Context, buyerID string, offeringIDs []string) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM cart_items WHERE buyer_id = $1 AND offering_id = ANY($2)`,
		buyerID, offeringIDs,
	)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func getOffering(ctx context.Context, q querier, id string) (*model.Offering, error) {
	var (
		o     model.Offering
		price string
	)
	err := q.QueryRow(ctx,
		`SELECT `+offeringColumns+` FROM offerings WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.SellerID, &o.Name, &o.Region, &price, &o.Description,
		&o.HarvestStart, &o.HarvestEnd, &o.BookingStart, &o.BookingEnd,
		&o.Limit, &o.Reserved, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get offering: %w", err)
	}
	if o.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse unit price %q: %w", price, err)
	}
	return &o, nil
}

func getBooking(ctx context.Context, q querier, id string) (*model.Booking, error) {
	b, err := scanBooking(q.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, err
	}
	items, err := listItems(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	b.Items = items[id]
	return b, nil
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b      model.Booking
		status string
	)
	err := row.Scan(&b.ID, &b.BuyerID, &status, &b.Shipping, &b.Payment, &b.CancelReason,
		&b.CancelledAt, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan booking: %w", err)
	}
	if b.Status, err = model.ParseBookingStatus(status); err != nil {
		return nil, fmt.Errorf("booking %s: %w", b.ID, err)
	}
	return &b, nil
}

func listItems(ctx context.Context, q querier, bookingIDs []string) (map[string][]model.LineItem, error) {
	rows, err := q.Query(ctx,
		`SELECT booking_id, offering_id, quantity, unit_price::text
		 FROM booking_items
		 WHERE booking_id = ANY($1)
		 ORDER BY booking_id, position`,
		bookingIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("list booking items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]model.LineItem, len(bookingIDs))
	for rows.Next() {
		var (
			bookingID string
			li        model.LineItem
			price     string
		)
		if err := rows.Scan(&bookingID, &li.OfferingID, &li.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan booking item: %w", err)
		}
		if li.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse unit price %q: %w", price, err)
		}
		items[bookingID] = append(items[bookingID], li)
	}
	return items, rows.Err()
}

// mapPgError turns serialization failures and deadlocks into
// ErrTransactionConflict so they are retried like a lost version check.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%s: %w", pgErr.Message, ErrTransactionConflict)
		}
	}
	return err
}
