package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RowWriter writes intent, execution, and insurance rows to Postgres using
// multi-row statements. Multi-row INSERT is a portable alternative to the
// COPY protocol; switch to pgx CopyFrom if write volume ever warrants it.
type RowWriter struct {
	db *sql.DB
}

// IntentRow is a row in liq.intents. Intents are upserted: the row follows
// the intent through its lifecycle.
type IntentRow struct {
	IntentID             string
	Submitter            string
	TargetAccount        string
	TargetVenue          string
	HealthRatioThreshold int64
	MinPrice             int64
	Deadline             int64
	BondAmount           int64
	State                string
	CreatedAtHeight      int64
	UpdatedAt            time.Time
}

// ExecutionRow is a row in liq.executions. Executions are immutable.
type ExecutionRow struct {
	IntentID         string
	Caller           string
	Venue            string
	CollateralAsset  string
	DebtAsset        string
	DebtRepaid       int64
	CollateralSeized int64
	DebtValue        int64
	SeizedValue      int64
	Profit           int64
	InsuranceFee     int64
	TreasuryFee      int64
	RewardAccrued    int64
	Height           int64
	ExecutedAt       time.Time
}

// InsuranceRow is a row in liq.insurance_ledger. Append-only.
type InsuranceRow struct {
	EntryID   string
	Kind      string
	Amount    int64
	Reason    string
	Timestamp time.Time
}

func NewRowWriter(db *sql.DB) *RowWriter {
	return &RowWriter{db: db}
}

// WriteIntentBatch upserts intent rows. Later states win: rows are deduped
// keeping the last write per id, since Postgres rejects a multi-row upsert
// that touches the same key twice.
func (w *RowWriter) WriteIntentBatch(ctx context.Context, tx *sql.Tx, rows []IntentRow) error {
	rows = dedupeIntents(rows)
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO liq.intents
		(intent_id, submitter, target_account, target_venue, health_ratio_threshold,
		 min_price, deadline, bond_amount, state, created_at_height, updated_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*11)

	for i, r := range rows {
		base := i * 11
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))
		args = append(args,
			r.IntentID, r.Submitter, r.TargetAccount, r.TargetVenue, r.HealthRatioThreshold,
			r.MinPrice, r.Deadline, r.BondAmount, r.State, r.CreatedAtHeight, r.UpdatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (intent_id) DO UPDATE SET
		bond_amount = EXCLUDED.bond_amount,
		state = EXCLUDED.state,
		updated_at = EXCLUDED.updated_at`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteExecutionBatch inserts execution rows. Idempotent: one execution per
// intent id, replays are no-ops.
func (w *RowWriter) WriteExecutionBatch(ctx context.Context, tx *sql.Tx, rows []ExecutionRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO liq.executions
		(intent_id, caller, venue, collateral_asset, debt_asset, debt_repaid,
		 collateral_seized, debt_value, seized_value, profit, insurance_fee,
		 treasury_fee, reward_accrued, height, executed_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*15)

	for i, r := range rows {
		base := i * 15
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
			base+9, base+10, base+11, base+12, base+13, base+14, base+15,
		))
		args = append(args,
			r.IntentID, r.Caller, r.Venue, r.CollateralAsset, r.DebtAsset, r.DebtRepaid,
			r.CollateralSeized, r.DebtValue, r.SeizedValue, r.Profit, r.InsuranceFee,
			r.TreasuryFee, r.RewardAccrued, r.Height, r.ExecutedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (intent_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteInsuranceBatch appends insurance ledger rows.
func (w *RowWriter) WriteInsuranceBatch(ctx context.Context, tx *sql.Tx, rows []InsuranceRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO liq.insurance_ledger
		(entry_id, kind, amount, reason, created_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*5)

	for i, r := range rows {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, r.EntryID, r.Kind, r.Amount, r.Reason, r.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (entry_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func dedupeIntents(rows []IntentRow) []IntentRow {
	if len(rows) < 2 {
		return rows
	}
	last := make(map[string]int, len(rows))
	for i, r := range rows {
		last[r.IntentID] = i
	}
	out := make([]IntentRow, 0, len(last))
	for i, r := range rows {
		if last[r.IntentID] == i {
			out = append(out, r)
		}
	}
	return out
}
