package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"servicebox.io/fsmcore/internal/catalog"
	"servicebox.io/fsmcore/internal/testutil"
)

func TestGateIsActiveCodeAndAllActiveCodes(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "catalog_gate")

	_, err := pool.Exec(t.Context(), `
		INSERT INTO ref_catalog_items (catalog, code, title, is_active, sort_order)
		VALUES
			('CANCEL_REASON', 'CUSTOMER_REQUEST', 'Customer request', TRUE, 1),
			('CANCEL_REASON', 'DUPLICATE_ORDER', 'Duplicate order', FALSE, 2)
	`)
	require.NoError(t, err)

	gate := catalog.NewGate(pool)

	active, err := gate.IsActiveCode(t.Context(), catalog.CancelReason, "CUSTOMER_REQUEST")
	require.NoError(t, err)
	require.True(t, active)

	active, err = gate.IsActiveCode(t.Context(), catalog.CancelReason, "DUPLICATE_ORDER")
	require.NoError(t, err)
	require.False(t, active, "inactive codes must not pass the gate")

	active, err = gate.IsActiveCode(t.Context(), catalog.CancelReason, "NOT_A_CODE")
	require.NoError(t, err)
	require.False(t, active)

	all, err := gate.AllActiveCodes(t.Context(), catalog.CancelReason, []string{"CUSTOMER_REQUEST"})
	require.NoError(t, err)
	require.True(t, all)

	all, err = gate.AllActiveCodes(t.Context(), catalog.CancelReason, []string{"CUSTOMER_REQUEST", "DUPLICATE_ORDER"})
	require.NoError(t, err)
	require.False(t, all)
}

func TestGateWithTxSeesUncommittedRows(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "catalog_gate_tx")

	tx, err := pool.Begin(t.Context())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(t.Context()) }()

	_, err = tx.Exec(t.Context(), `
		INSERT INTO ref_catalog_items (catalog, code, title, is_active, sort_order)
		VALUES ('SYMPTOM', 'NO_POWER', 'No power', TRUE, 1)
	`)
	require.NoError(t, err)

	gate := catalog.NewGate(pool).WithTx(tx)
	active, err := gate.IsActiveCode(t.Context(), catalog.Symptom, "NO_POWER")
	require.NoError(t, err)
	require.True(t, active)
}
