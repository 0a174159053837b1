package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-register/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

// MySQLAdapter keeps the register's sales history in MySQL.
type MySQLAdapter struct {
	db         *sql.DB
	terminalID string
}

func NewMySQLAdapter(db *sql.DB, terminalID string) *MySQLAdapter {
	return &MySQLAdapter{db: db, terminalID: terminalID}
}

func (m *MySQLAdapter) SaveInvoice(ctx context.Context, inv domain.Invoice) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (id, order_id, terminal_id, total, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.OrderID, m.terminalID, inv.Total, currencyCode(inv), inv.Timestamp.UTC(),
	)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return ErrDuplicateInvoice
		}
		return fmt.Errorf("insert invoice: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO invoice_lines (invoice_id, line_no, product_id, product_name, quantity, unit_price, line_total)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare invoice line: %w", err)
	}
	defer stmt.Close()

	for i, l := range inv.Lines {
		if _, err := stmt.ExecContext(ctx, inv.ID, i, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice, l.LineTotal); err != nil {
			return fmt.Errorf("insert invoice line %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (m *MySQLAdapter) ListInvoices(ctx context.Context, since time.Time) ([]domain.Invoice, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT i.id, i.order_id, i.created_at, i.total, i.currency,
		       l.line_no, l.product_id, l.product_name, l.quantity, l.unit_price, l.line_total
		FROM invoices i
		LEFT JOIN invoice_lines l ON l.invoice_id = i.id
		WHERE i.terminal_id = ? AND i.created_at >= ?
		ORDER BY i.created_at, i.id, l.line_no`,
		m.terminalID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()

	var joined []invoiceRow
	for rows.Next() {
		var (
			row       invoiceRow
			lineNo    sql.NullInt64
			productID sql.NullInt64
			name      sql.NullString
			quantity  sql.NullInt64
			unitPrice decimal.NullDecimal
			lineTotal decimal.NullDecimal
		)
		if err := rows.Scan(&row.ID, &row.OrderID, &row.CreatedAt, &row.Total, &row.Currency,
			&lineNo, &productID, &name, &quantity, &unitPrice, &lineTotal); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		if lineNo.Valid {
			row.HasLine = true
			row.ProductID = productID.Int64
			row.ProductName = name.String
			row.Quantity = int(quantity.Int64)
			row.UnitPrice = unitPrice.Decimal
			row.LineTotal = lineTotal.Decimal
		}
		joined = append(joined, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}

	return groupInvoiceRows(joined)
}
