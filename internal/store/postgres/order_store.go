package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. It holds the
// resolved orders of simulation runs.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `order_id, model_id, sym, venue, side, order_type,
	price, amount, executed_price, executed_amount, status,
	timestamp, market_created_at, received_at,
	universal_id, data_center, process_id`

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		var (
			o         domain.Order
			side      int16
			orderType string
			status    string
		)
		if err := rows.Scan(
			&o.ID, &o.ModelID, &o.Instrument, &o.Venue, &side, &orderType,
			&o.Price, &o.Amount, &o.ExecutedPrice, &o.ExecutedAmount, &status,
			&o.Timestamp, &o.MarketCreatedAt, &o.ReceivedAt,
			&o.UniversalID, &o.DataCenter, &o.ProcessID,
		); err != nil {
			return nil, err
		}
		o.Side = domain.Side(side)
		o.Type = domain.OrderType(orderType)
		o.Status = domain.OrderStatus(status)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpsertBatch writes orders in one batch. An order already present is
// overwritten with its latest state.
func (s *OrderStore) UpsertBatch(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO sim_orders (
			order_id, model_id, sym, venue, side, order_type,
			price, amount, executed_price, executed_amount, status,
			timestamp, market_created_at, received_at,
			universal_id, data_center, process_id, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, NOW()
		)
		ON CONFLICT (order_id) DO UPDATE SET
			executed_price    = EXCLUDED.executed_price,
			executed_amount   = EXCLUDED.executed_amount,
			status            = EXCLUDED.status,
			timestamp         = EXCLUDED.timestamp,
			market_created_at = EXCLUDED.market_created_at,
			received_at       = EXCLUDED.received_at,
			universal_id      = EXCLUDED.universal_id,
			updated_at        = NOW()`

	for _, o := range orders {
		batch.Queue(query,
			o.ID, o.ModelID, o.Instrument, o.Venue, int16(o.Side), string(o.Type),
			o.Price, o.Amount, o.ExecutedPrice, o.ExecutedAmount, string(o.Status),
			o.Timestamp, o.MarketCreatedAt, o.ReceivedAt,
			o.UniversalID, o.DataCenter, o.ProcessID,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range orders {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert order batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByModel returns the orders of one model, newest first.
func (s *OrderStore) ListByModel(ctx context.Context, modelID string, opts domain.ListOpts) ([]domain.Order, error) {
	query, args := applyListOpts(
		`SELECT `+orderSelectCols+` FROM sim_orders WHERE model_id = $1`,
		[]any{modelID}, "timestamp", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by model: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by model: %w", err)
	}
	return orders, nil
}
