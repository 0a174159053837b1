package storage

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/posregister?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("MySQL not available: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	applyMigration(t, db, "migrations/mysql/01_sales.up.sql")
	return db
}

func applyMigration(t *testing.T, db *sql.DB, path string) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, stmt := range strings.Split(string(raw), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.ExecContext(context.Background(), stmt)
		require.NoError(t, err)
	}
}

func TestMySQLSales_SaveAndList(t *testing.T) {
	db := getMySQLDB(t)

	ctx := t.Context()
	terminal := "test-" + time.Now().Format("150405.000000")
	adapter := NewMySQLAdapter(db, terminal)
	t.Cleanup(func() {
		db.Exec(`DELETE FROM invoices WHERE terminal_id = ?`, terminal)
	})

	base := time.Now().UTC().Truncate(time.Microsecond)
	older := randomInvoice(base.Add(-48 * time.Hour))
	newer := randomInvoice(base)
	require.NoError(t, adapter.SaveInvoice(ctx, older))
	require.NoError(t, adapter.SaveInvoice(ctx, newer))

	got, err := adapter.ListInvoices(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assertInvoice(t, newer, got[0])

	all, err := adapter.ListInvoices(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, older.ID, all[0].ID)
}

func TestMySQLSales_Duplicate(t *testing.T) {
	db := getMySQLDB(t)

	ctx := t.Context()
	adapter := NewMySQLAdapter(db, "test-dup")
	inv := randomInvoice(time.Now())
	t.Cleanup(func() {
		db.Exec(`DELETE FROM invoices WHERE id = ?`, inv.ID)
	})

	require.NoError(t, adapter.SaveInvoice(ctx, inv))
	require.ErrorIs(t, adapter.SaveInvoice(ctx, inv), ErrDuplicateInvoice)
}

func TestMySQLSales_InvoiceWithoutLines(t *testing.T) {
	db := getMySQLDB(t)

	ctx := t.Context()
	terminal := "test-empty-" + time.Now().Format("150405.000000")
	adapter := NewMySQLAdapter(db, terminal)
	t.Cleanup(func() {
		db.Exec(`DELETE FROM invoices WHERE terminal_id = ?`, terminal)
	})

	inv := randomInvoice(time.Now())
	inv.Lines = nil
	require.NoError(t, adapter.SaveInvoice(ctx, inv))

	got, err := adapter.ListInvoices(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Lines)
}

