package requests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const recordColumns = `request_id, user_id, region, store, request_type, payload, attachment_ref,
	status, operator_response, created_at, updated_at`

// PostgresStore persists records in the requests table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a store over pool.
func NewPostgresStore(log *slog.Logger, pool *pgxpool.Pool) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{
		pool:   pool,
		logger: log.With(slog.String("store", "requests")),
	}
}

func (s *PostgresStore) Create(ctx context.Context, id string, input CreateInput) (Record, error) {
	payload, err := json.Marshal(nonNilPayload(input.Payload))
	if err != nil {
		return Record{}, fmt.Errorf("encode payload: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO requests (request_id, user_id, region, store, request_type, payload, attachment_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+recordColumns,
		id, input.UserID, input.Region, input.Store, string(input.Type), payload, input.AttachmentRef, string(StatusPending),
	)
	rec, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Record{}, ErrDuplicateID
		}
		return Record{}, fmt.Errorf("insert request: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM requests WHERE request_id = $1`, strings.TrimSpace(id))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get request: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	query, args := buildListQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()
	items := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

// UpdateStatus only touches records that are still open; the status guard
// lives in the UPDATE so concurrent responses cannot reopen a closed record.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, response string) (Record, error) {
	id = strings.TrimSpace(id)
	row := s.pool.QueryRow(ctx, `
		UPDATE requests
		SET status = $2, operator_response = $3, updated_at = now()
		WHERE request_id = $1 AND status NOT IN ('completed', 'rejected')
		RETURNING `+recordColumns,
		id, string(status), response,
	)
	rec, err := scanRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("update request: %w", err)
	}
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM requests WHERE request_id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get request status: %w", err)
	}
	return Record{}, fmt.Errorf("%w: %s is %s", ErrTerminalStatus, id, current)
}

func (s *PostgresStore) Filters(ctx context.Context) (Filters, error) {
	stores, err := s.distinct(ctx, "store")
	if err != nil {
		return Filters{}, err
	}
	regions, err := s.distinct(ctx, "region")
	if err != nil {
		return Filters{}, err
	}
	return Filters{Stores: stores, Regions: regions, Statuses: AllStatuses()}, nil
}

func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	stats := Stats{ByStore: map[string]int{}, ByRegion: map[string]int{}}
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'in_progress'),
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'rejected'),
			count(*) FILTER (WHERE created_at >= $1)
		FROM requests`, startOfDay(now),
	).Scan(&stats.Total, &stats.Pending, &stats.InProgress, &stats.Completed, &stats.Rejected, &stats.Today)
	if err != nil {
		return Stats{}, fmt.Errorf("count requests: %w", err)
	}
	if stats.ByStore, err = s.countBy(ctx, "store"); err != nil {
		return Stats{}, err
	}
	if stats.ByRegion, err = s.countBy(ctx, "region"); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// column is always one of the fixed identifiers above, never user input.
func (s *PostgresStore) distinct(ctx context.Context, column string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT `+column+` FROM requests WHERE `+column+` <> '' ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", column, err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", column, err)
	}
	return values, nil
}

func (s *PostgresStore) countBy(ctx context.Context, column string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+column+`, count(*) FROM requests GROUP BY 1`)
	if err != nil {
		return nil, fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("count by %s: %w", column, err)
		}
		out[key] = count
	}
	return out, rows.Err()
}

func buildListQuery(filter Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		args = append(args, value)
		where = append(where, column+" = $"+strconv.Itoa(len(args)))
	}
	add("user_id", filter.UserID)
	add("store", filter.Store)
	add("region", filter.Region)
	add("status", string(filter.Status))

	var b strings.Builder
	b.WriteString("SELECT " + recordColumns + " FROM requests")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}
	return b.String(), args
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec         Record
		reqType     string
		status      string
		payloadJSON []byte
	)
	if err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Region, &rec.Store, &reqType, &payloadJSON, &rec.AttachmentRef,
		&status, &rec.OperatorResponse, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return Record{}, err
	}
	rec.Type = Type(reqType)
	rec.Status = Status(status)
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
			return Record{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	return rec, nil
}

func nonNilPayload(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
