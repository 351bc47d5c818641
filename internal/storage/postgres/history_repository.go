package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type historyRepository struct {
	u *unitOfWork
}

func (r historyRepository) Append(ctx context.Context, entry domain.StatusHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	if _, err := r.u.tx.ExecContext(ctx, `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, reason, actor_id, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		entry.ID, entry.OrderID, string(entry.From), string(entry.To), entry.Reason, entry.ActorID, entry.OccurredAt,
	); err != nil {
		return fmt.Errorf("insert status history: %w", mapTxErr(err))
	}
	return nil
}

func (r historyRepository) List(ctx context.Context, orderID string) ([]domain.StatusHistoryEntry, error) {
	rows, err := r.u.tx.QueryContext(ctx, `
		SELECT id, order_id, from_status, to_status, reason, actor_id, occurred_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", mapTxErr(err))
	}
	defer rows.Close()

	entries := make([]domain.StatusHistoryEntry, 0)
	for rows.Next() {
		var (
			entry    domain.StatusHistoryEntry
			from, to string
		)
		if err := rows.Scan(&entry.ID, &entry.OrderID, &from, &to, &entry.Reason, &entry.ActorID, &entry.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		entry.From = domain.OrderStatus(from)
		entry.To = domain.OrderStatus(to)
		entry.OccurredAt = entry.OccurredAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status history: %w", err)
	}
	return entries, nil
}
