// Package catalog implements the Reference Catalog Gate: a thin read gate
// in front of the ref_catalog_items table that the validator consults for
// reason-code and symptom/cause/action guards.
//
// Import Path: servicebox.io/fsmcore/internal/catalog
package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Catalog names the validator's guard clauses reference.
const (
	WorkPauseReason = "WORK_PAUSE_REASON"
	CancelReason    = "CANCEL_REASON"
	Symptom         = "SYMPTOM"
	Cause           = "CAUSE"
	Action          = "ACTION"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the gate can run
// either against the shared pool or inside the orchestrator's transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Gate answers is_active_code queries against the reference catalog.
type Gate struct {
	db Querier
}

// NewGate builds a Gate over the shared connection pool.
func NewGate(pool *pgxpool.Pool) *Gate {
	return &Gate{db: pool}
}

// WithTx returns a Gate bound to a transaction, for use inside the
// orchestrator where the catalog lookup must see the same snapshot as the
// rest of validation.
func (g *Gate) WithTx(tx pgx.Tx) *Gate {
	return &Gate{db: tx}
}

// IsActiveCode reports whether code is a currently active entry in catalog.
// Inactive and unknown codes both return false; the caller only cares
// about the boolean, never about which.
func (g *Gate) IsActiveCode(ctx context.Context, catalog, code string) (bool, error) {
	var exists bool
	err := g.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM ref_catalog_items
			WHERE catalog = $1 AND code = $2 AND is_active = TRUE
		)`,
		catalog, code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("catalog lookup %s/%s: %w", catalog, code, err)
	}
	return exists, nil
}

// AllActiveCodes checks every code in codes against catalog, short-circuiting
// on the first one that is not active. Used for WORK.COMPLETED's
// symptoms/causes/actions arrays.
func (g *Gate) AllActiveCodes(ctx context.Context, catalog string, codes []string) (bool, error) {
	for _, code := range codes {
		active, err := g.IsActiveCode(ctx, catalog, code)
		if err != nil {
			return false, err
		}
		if !active {
			return false, nil
		}
	}
	return true, nil
}
