package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-register/internal/core/domain"
)

const pgUniqueViolation = "23505"

// PostgresAdapter keeps the register's sales history in Postgres. Amounts
// cross the driver as text so no precision is lost on either side.
type PostgresAdapter struct {
	pool       *pgxpool.Pool
	terminalID string
}

func NewPostgresAdapter(pool *pgxpool.Pool, terminalID string) (*PostgresAdapter, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	if terminalID == "" {
		return nil, fmt.Errorf("terminalID is empty")
	}
	return &PostgresAdapter{pool: pool, terminalID: terminalID}, nil
}

func (p *PostgresAdapter) SaveInvoice(ctx context.Context, inv domain.Invoice) error {
	if inv.ID == "" {
		return fmt.Errorf("invoice id is empty")
	}

	_, err := withTx(ctx, p.pool, func(tx pgx.Tx) (struct{}, error) {
		_, err := tx.Exec(ctx, `
			INSERT INTO invoices (id, order_id, terminal_id, total, currency, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5, $6)`,
			inv.ID, inv.OrderID, p.terminalID, inv.Total.String(), currencyCode(inv), inv.Timestamp,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return struct{}{}, ErrDuplicateInvoice
			}
			return struct{}{}, fmt.Errorf("insert invoice: %w", err)
		}

		batch := &pgx.Batch{}
		for i, l := range inv.Lines {
			batch.Queue(`
				INSERT INTO invoice_lines (invoice_id, line_no, product_id, product_name, quantity, unit_price, line_total)
				VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric)`,
				inv.ID, i, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice.String(), l.LineTotal.String())
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return struct{}{}, fmt.Errorf("insert invoice lines: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (p *PostgresAdapter) ListInvoices(ctx context.Context, since time.Time) ([]domain.Invoice, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT i.id, i.order_id, i.created_at, i.total::text, i.currency,
		       l.line_no, l.product_id, l.product_name, l.quantity, l.unit_price::text, l.line_total::text
		FROM invoices i
		LEFT JOIN invoice_lines l ON l.invoice_id = i.id
		WHERE i.terminal_id = $1 AND i.created_at >= $2
		ORDER BY i.created_at, i.id, l.line_no`,
		p.terminalID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()

	var joined []invoiceRow
	for rows.Next() {
		var (
			row       invoiceRow
			total     string
			lineNo    *int32
			productID *int64
			name      *string
			quantity  *int32
			unitPrice *string
			lineTotal *string
		)
		if err := rows.Scan(&row.ID, &row.OrderID, &row.CreatedAt, &total, &row.Currency,
			&lineNo, &productID, &name, &quantity, &unitPrice, &lineTotal); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}

		if row.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("invoice %s total[%s]: %w", row.ID, total, err)
		}
		if lineNo != nil {
			row.HasLine = true
			row.ProductID = *productID
			row.ProductName = *name
			row.Quantity = int(*quantity)
			if row.UnitPrice, err = decimal.NewFromString(*unitPrice); err != nil {
				return nil, fmt.Errorf("invoice %s unit_price[%s]: %w", row.ID, *unitPrice, err)
			}
			if row.LineTotal, err = decimal.NewFromString(*lineTotal); err != nil {
				return nil, fmt.Errorf("invoice %s line_total[%s]: %w", row.ID, *lineTotal, err)
			}
		}
		joined = append(joined, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}

	return groupInvoiceRows(joined)
}
