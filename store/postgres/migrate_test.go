package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMigrations_EmptyDatabase(t *testing.T) {
	// GIVEN: A database without any recorded migration
	tx1 := &mockTx{execs: []execExpectation{
		{expect: regexp.MustCompile("-- Initial schema for the reconciliation worker")},
		{expect: regexp.MustCompile("INSERT INTO schema_migrations"), args: []any{"001_init.sql"}},
	}}
	tx2 := &mockTx{execs: []execExpectation{
		{expect: regexp.MustCompile("-- Reconciliation run history")},
		{expect: regexp.MustCompile("INSERT INTO schema_migrations"), args: []any{"002_reconciliation_runs.sql"}},
	}}
	pool := &mockPool{
		t: t,
		execs: []execExpectation{
			{expect: regexp.MustCompile("CREATE TABLE IF NOT EXISTS schema_migrations")},
		},
		queries: []queryExpectation{
			{expect: regexp.MustCompile(`schema_migrations WHERE version=\$1`), args: []any{"001_init.sql"}, value: false},
			{expect: regexp.MustCompile(`schema_migrations WHERE version=\$1`), args: []any{"002_reconciliation_runs.sql"}, value: false},
		},
		txs: []*mockTx{tx1, tx2},
	}

	// WHEN: Migrations are applied
	err := ApplyMigrations(context.Background(), pool)

	// THEN: Each file runs in its own committed transaction
	require.NoError(t, err)
	pool.assertDone()
	tx1.assertDone(t)
	tx2.assertDone(t)
	assert.True(t, tx1.committed)
	assert.True(t, tx2.committed)
}

func TestApplyMigrations_SkipsApplied(t *testing.T) {
	// GIVEN: The first migration is already recorded
	tx2 := &mockTx{execs: []execExpectation{
		{expect: regexp.MustCompile("-- Reconciliation run history")},
		{expect: regexp.MustCompile("INSERT INTO schema_migrations"), args: []any{"002_reconciliation_runs.sql"}},
	}}
	pool := &mockPool{
		t: t,
		execs: []execExpectation{
			{expect: regexp.MustCompile("CREATE TABLE IF NOT EXISTS schema_migrations")},
		},
		queries: []queryExpectation{
			{expect: regexp.MustCompile(`schema_migrations WHERE version=\$1`), args: []any{"001_init.sql"}, value: true},
			{expect: regexp.MustCompile(`schema_migrations WHERE version=\$1`), args: []any{"002_reconciliation_runs.sql"}, value: false},
		},
		txs: []*mockTx{tx2},
	}

	// WHEN: Migrations are applied
	err := ApplyMigrations(context.Background(), pool)

	// THEN: Only the second one runs
	require.NoError(t, err)
	pool.assertDone()
	tx2.assertDone(t)
}

func TestApplyMigrations_RollsBackOnFailure(t *testing.T) {
	// GIVEN: The first migration fails to execute
	tx1 := &mockTx{execs: []execExpectation{
		{expect: regexp.MustCompile("-- Initial schema"), err: errors.New("syntax error")},
	}}
	pool := &mockPool{
		t: t,
		execs: []execExpectation{
			{expect: regexp.MustCompile("CREATE TABLE IF NOT EXISTS schema_migrations")},
		},
		queries: []queryExpectation{
			{expect: regexp.MustCompile(`schema_migrations WHERE version=\$1`), args: []any{"001_init.sql"}, value: false},
		},
		txs: []*mockTx{tx1},
	}

	// WHEN: Migrations are applied
	err := ApplyMigrations(context.Background(), pool)

	// THEN: The error names the file and the transaction is rolled back
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_init.sql")
	assert.True(t, tx1.rolled)
	assert.False(t, tx1.committed)
}

// =============================================================================
// SCRIPTED POOL
// =============================================================================

type queryExpectation struct {
	expect *regexp.Regexp
	args   []any
	value  any
	err    error
}

type execExpectation struct {
	expect *regexp.Regexp
	args   []any
	err    error
}

type mockPool struct {
	t       *testing.T
	queries []queryExpectation
	execs   []execExpectation
	txs     []*mockTx
	txIdx   int
}

func (m *mockPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if len(m.queries) == 0 {
		m.t.Fatalf("unexpected query: %s", sql)
	}
	exp := m.queries[0]
	m.queries = m.queries[1:]
	if !exp.expect.MatchString(sql) {
		m.t.Fatalf("query mismatch: %s", sql)
	}
	if err := matchArgs(exp.args, args); err != nil {
		m.t.Fatal(err)
	}
	return mockRow{value: exp.value, err: exp.err}
}

func (m *mockPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	m.t.Fatalf("unexpected multi-row query: %s", sql)
	return nil, nil
}

func (m *mockPool) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if len(m.execs) == 0 {
		m.t.Fatalf("unexpected exec: %s", sql)
	}
	exp := m.execs[0]
	m.execs = m.execs[1:]
	if !exp.expect.MatchString(sql) {
		m.t.Fatalf("exec mismatch: %s", sql)
	}
	if err := matchArgs(exp.args, arguments); err != nil {
		m.t.Fatal(err)
	}
	return pgconn.NewCommandTag("MOCK"), exp.err
}

func (m *mockPool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	if m.txIdx >= len(m.txs) {
		m.t.Fatalf("unexpected begin tx (no more transactions)")
	}
	tx := m.txs[m.txIdx]
	m.txIdx++
	return tx, nil
}

func (m *mockPool) assertDone() {
	assert.Empty(m.t, m.queries, "pending queries")
	assert.Empty(m.t, m.execs, "pending execs")
	assert.Equal(m.t, len(m.txs), m.txIdx, "transactions begun")
}

type mockRow struct {
	value any
	err   error
}

func (m mockRow) Scan(dest ...any) error {
	if m.err != nil {
		return m.err
	}
	if len(dest) != 1 {
		return fmt.Errorf("unexpected dest count: %d", len(dest))
	}
	v, ok := m.value.(bool)
	ptr, okPtr := dest[0].(*bool)
	if !ok || !okPtr {
		return fmt.Errorf("unsupported scan %T into %T", m.value, dest[0])
	}
	*ptr = v
	return nil
}

// mockTx embeds pgx.Tx so only the methods the runner calls need bodies.
type mockTx struct {
	pgx.Tx
	execs     []execExpectation
	committed bool
	rolled    bool
}

func (m *mockTx) Commit(ctx context.Context) error {
	m.committed = true
	return nil
}

func (m *mockTx) Rollback(ctx context.Context) error {
	if !m.committed {
		m.rolled = true
	}
	return nil
}

func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if len(m.execs) == 0 {
		return pgconn.CommandTag{}, fmt.Errorf("unexpected tx exec: %s", sql)
	}
	exp := m.execs[0]
	m.execs = m.execs[1:]
	if !exp.expect.MatchString(sql) {
		return pgconn.CommandTag{}, fmt.Errorf("exec mismatch: %s", sql)
	}
	if err := matchArgs(exp.args, arguments); err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("MOCK"), exp.err
}

func (m *mockTx) assertDone(t *testing.T) {
	assert.Empty(t, m.execs, "pending tx execs")
	assert.True(t, m.committed || m.rolled, "transaction not finished")
}

func matchArgs(expected, actual []any) error {
	if len(expected) == 0 {
		return nil
	}
	if len(expected) != len(actual) {
		return fmt.Errorf("argument length mismatch: expected %d got %d", len(expected), len(actual))
	}
	for i, exp := range expected {
		if exp != nil && exp != actual[i] {
			return fmt.Errorf("argument mismatch at %d: expected %v got %v", i, exp, actual[i])
		}
	}
	return nil
}
