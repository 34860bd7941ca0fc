package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `venue, trade_id, sym, category, misc, side, price, size,
	order_ids, timestamp, market_created_at, universal_id, data_center, process_id`

func scanTradeRows(rows pgx.Rows) ([]domain.MarketTrade, error) {
	var trades []domain.MarketTrade
	for rows.Next() {
		var t domain.MarketTrade
		var side int16
		if err := rows.Scan(
			&t.Venue, &t.TradeID, &t.Instrument, &t.Category, &t.Misc,
			&side, &t.Price, &t.Size, &t.OrderIDs,
			&t.Timestamp, &t.MarketCreatedAt,
			&t.UniversalID, &t.DataCenter, &t.ProcessID,
		); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertBatch inserts multiple trades using a pgx Batch. A trade already
// stored under the same (venue, trade_id) is skipped.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.MarketTrade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO market_trades (
			venue, trade_id, sym, category, misc,
			side, price, size, order_ids,
			timestamp, market_created_at,
			universal_id, data_center, process_id
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11,
			$12, $13, $14
		) ON CONFLICT (venue, trade_id) DO NOTHING`

	for _, t := range trades {
		batch.Queue(query,
			t.Venue, t.TradeID, t.Instrument, t.Category, t.Misc,
			int16(t.Side), t.Price, t.Size, t.OrderIDs,
			t.Timestamp, t.MarketCreatedAt,
			t.UniversalID, t.DataCenter, t.ProcessID,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByInstrument returns trades for an instrument, newest first, with
// pagination and optional time filtering on the venue timestamp.
func (s *TradeStore) ListByInstrument(ctx context.Context, instrument string, opts domain.ListOpts) ([]domain.MarketTrade, error) {
	query, args := applyListOpts(
		`SELECT `+tradeSelectCols+` FROM market_trades WHERE sym = $1`,
		[]any{instrument}, "market_created_at", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by instrument: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by instrument: %w", err)
	}
	return trades, nil
}

// applyListOpts appends time bounds, descending order and pagination to a
// query whose positional arguments so far are args.
func applyListOpts(query string, args []any, tsCol string, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", tsCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", tsCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", tsCol)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
