package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidehook/tidehook/internal/hook"
)

// Connect establishes a pgx connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS tidehook;

CREATE TABLE IF NOT EXISTS tidehook.subscriptions (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	events       TEXT[] NOT NULL,
	secret       TEXT NOT NULL,
	filters      JSONB,
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	retry_policy JSONB,
	rate_limit   JSONB,
	breaker      JSONB,
	headers      JSONB,
	token_auth   BOOLEAN NOT NULL DEFAULT FALSE,
	verified     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tidehook.deliveries (
	id              TEXT PRIMARY KEY,
	subscription_id TEXT NOT NULL,
	event_id        TEXT NOT NULL,
	status          TEXT NOT NULL,
	attempts        INT NOT NULL DEFAULT 0,
	max_attempts    INT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	last_attempt_at TIMESTAMPTZ,
	next_retry_at   TIMESTAMPTZ,
	response_status INT,
	error_message   TEXT,
	delivered_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS deliveries_sub_created
	ON tidehook.deliveries(subscription_id, created_at);

CREATE TABLE IF NOT EXISTS tidehook.dlq (
	id              TEXT PRIMARY KEY,
	delivery_id     TEXT NOT NULL UNIQUE,
	subscription_id TEXT NOT NULL,
	event_id        TEXT NOT NULL,
	reason          TEXT NOT NULL,
	payload         JSONB,
	attempts        INT NOT NULL,
	last_error      TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	processed_at    TIMESTAMPTZ,
	retry_count     INT NOT NULL DEFAULT 0
);
`

// EnsureSchema creates the tidehook schema and tables if missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}

// PostgresSubscriptions reads subscriptions from postgres.
type PostgresSubscriptions struct {
	pool *pgxpool.Pool
}

func NewPostgresSubscriptions(pool *pgxpool.Pool) *PostgresSubscriptions {
	return &PostgresSubscriptions{pool: pool}
}

const subscriptionColumns = `
	id, url, events, secret, filters, active,
	retry_policy, rate_limit, breaker, headers, token_auth, verified`

func scanSubscription(row pgx.Row) (*hook.Subscription, error) {
	var s hook.Subscription
	var filters, retry, limit, breaker, headers []byte
	err := row.Scan(&s.ID, &s.URL, &s.Events, &s.Secret, &filters, &s.Active,
		&retry, &limit, &breaker, &headers, &s.TokenAuth, &s.Verified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, hook.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(filters) > 0 {
		_ = json.Unmarshal(filters, &s.Filters)
	}
	if len(retry) > 0 {
		_ = json.Unmarshal(retry, &s.RetryPolicy)
	}
	if len(limit) > 0 {
		_ = json.Unmarshal(limit, &s.RateLimit)
	}
	if len(breaker) > 0 {
		_ = json.Unmarshal(breaker, &s.Breaker)
	}
	if len(headers) > 0 {
		_ = json.Unmarshal(headers, &s.Headers)
	}
	return &s, nil
}

func (p *PostgresSubscriptions) ListActive(ctx context.Context) ([]hook.Subscription, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT`+subscriptionColumns+`
		FROM tidehook.subscriptions
		WHERE active
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []hook.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (p *PostgresSubscriptions) Get(ctx context.Context, id string) (*hook.Subscription, error) {
	return scanSubscription(p.pool.QueryRow(ctx, `
		SELECT`+subscriptionColumns+`
		FROM tidehook.subscriptions
		WHERE id = $1`, id))
}

// PostgresDeliveries persists delivery records in postgres.
type PostgresDeliveries struct {
	pool *pgxpool.Pool
}

func NewPostgresDeliveries(pool *pgxpool.Pool) *PostgresDeliveries {
	return &PostgresDeliveries{pool: pool}
}

func (p *PostgresDeliveries) Create(ctx context.Context, d *hook.Delivery) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO tidehook.deliveries(
			id, subscription_id, event_id, status, attempts, max_attempts,
			created_at, last_attempt_at, next_retry_at, response_status,
			error_message, delivered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		d.ID, d.SubscriptionID, d.EventID, d.Status, d.Attempts, d.MaxAttempts,
		d.CreatedAt, d.LastAttemptAt, d.NextRetryAt, nullableInt(d.ResponseStatus),
		nullableStr(d.ErrorMessage), d.DeliveredAt)
	return err
}

func (p *PostgresDeliveries) Update(ctx context.Context, d *hook.Delivery) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE tidehook.deliveries
		SET status=$2, attempts=$3, last_attempt_at=$4, next_retry_at=$5,
		    response_status=$6, error_message=$7, delivered_at=$8
		WHERE id=$1`,
		d.ID, d.Status, d.Attempts, d.LastAttemptAt, d.NextRetryAt,
		nullableInt(d.ResponseStatus), nullableStr(d.ErrorMessage), d.DeliveredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return hook.ErrNotFound
	}
	return nil
}

const deliveryColumns = `
	id, subscription_id, event_id, status, attempts, max_attempts,
	created_at, last_attempt_at, next_retry_at, response_status,
	error_message, delivered_at`

func scanDelivery(row pgx.Row) (*hook.Delivery, error) {
	var d hook.Delivery
	var respStatus sql.NullInt32
	var errMsg sql.NullString
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.EventID, &d.Status,
		&d.Attempts, &d.MaxAttempts, &d.CreatedAt, &d.LastAttemptAt,
		&d.NextRetryAt, &respStatus, &errMsg, &d.DeliveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, hook.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if respStatus.Valid {
		d.ResponseStatus = int(respStatus.Int32)
	}
	d.ErrorMessage = errMsg.String
	return &d, nil
}

func (p *PostgresDeliveries) Get(ctx context.Context, id string) (*hook.Delivery, error) {
	return scanDelivery(p.pool.QueryRow(ctx, `
		SELECT`+deliveryColumns+`
		FROM tidehook.deliveries
		WHERE id = $1`, id))
}

func (p *PostgresDeliveries) List(ctx context.Context, f DeliveryFilter) ([]hook.Delivery, error) {
	q := `SELECT` + deliveryColumns + ` FROM tidehook.deliveries WHERE 1=1`
	args := []any{}
	if f.SubscriptionID != "" {
		args = append(args, f.SubscriptionID)
		q += fmt.Sprintf(" AND subscription_id = $%d", len(args))
	}
	if !f.Start.IsZero() {
		args = append(args, f.Start)
		q += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.End.IsZero() {
		args = append(args, f.End)
		q += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	q += ` ORDER BY created_at`

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []hook.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// PostgresDeadLetters persists dead letter entries in postgres.
type PostgresDeadLetters struct {
	pool *pgxpool.Pool
}

func NewPostgresDeadLetters(pool *pgxpool.Pool) *PostgresDeadLetters {
	return &PostgresDeadLetters{pool: pool}
}

func (p *PostgresDeadLetters) Upsert(ctx context.Context, e *hook.DeadLetterEntry) error {
	payload, _ := json.Marshal(e.Payload)
	// delivery_id is unique; re-enqueuing the same delivery refreshes the
	// snapshot instead of inserting a duplicate.
	return p.pool.QueryRow(ctx, `
		INSERT INTO tidehook.dlq(
			id, delivery_id, subscription_id, event_id, reason, payload,
			attempts, last_error, created_at, retry_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (delivery_id) DO UPDATE
		SET reason=EXCLUDED.reason, payload=EXCLUDED.payload,
		    attempts=EXCLUDED.attempts, last_error=EXCLUDED.last_error
		RETURNING id, created_at, retry_count`,
		e.ID, e.DeliveryID, e.SubscriptionID, e.EventID, e.Reason, payload,
		e.Attempts, nullableStr(e.LastError), e.CreatedAt, e.RetryCount,
	).Scan(&e.ID, &e.CreatedAt, &e.RetryCount)
}

func (p *PostgresDeadLetters) Update(ctx context.Context, e *hook.DeadLetterEntry) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE tidehook.dlq
		SET processed_at=$2, retry_count=$3, last_error=$4
		WHERE id=$1`,
		e.ID, e.ProcessedAt, e.RetryCount, nullableStr(e.LastError))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return hook.ErrNotFound
	}
	return nil
}

const dlqColumns = `
	id, delivery_id, subscription_id, event_id, reason, payload,
	attempts, last_error, created_at, processed_at, retry_count`

func scanDeadLetter(row pgx.Row) (*hook.DeadLetterEntry, error) {
	var e hook.DeadLetterEntry
	var payload []byte
	var lastErr sql.NullString
	err := row.Scan(&e.ID, &e.DeliveryID, &e.SubscriptionID, &e.EventID,
		&e.Reason, &payload, &e.Attempts, &lastErr, &e.CreatedAt,
		&e.ProcessedAt, &e.RetryCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, hook.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &e.Payload)
	}
	e.LastError = lastErr.String
	return &e, nil
}

func (p *PostgresDeadLetters) Get(ctx context.Context, id string) (*hook.DeadLetterEntry, error) {
	return scanDeadLetter(p.pool.QueryRow(ctx, `
		SELECT`+dlqColumns+`
		FROM tidehook.dlq
		WHERE id = $1`, id))
}

func (p *PostgresDeadLetters) ListPending(ctx context.Context, limit int) ([]hook.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT`+dlqColumns+`
		FROM tidehook.dlq
		WHERE processed_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []hook.DeadLetterEntry
	for rows.Next() {
		e, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
