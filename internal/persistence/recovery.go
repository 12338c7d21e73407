package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"IntentLedger/internal/intent"
	"IntentLedger/internal/settlement"
)

// Recovery reloads engine state from Postgres at startup.
type Recovery struct {
	db *sql.DB
}

func NewRecovery(db *sql.DB) *Recovery {
	return &Recovery{db: db}
}

// LoadIntents returns every persisted intent. Terminal intents are included
// so their ids stay taken; callers restore Pending bonds separately.
func (r *Recovery) LoadIntents(ctx context.Context) ([]intent.Intent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT intent_id, submitter, target_account, target_venue,
		       health_ratio_threshold, min_price, deadline, bond_amount,
		       state, created_at_height
		FROM liq.intents
		ORDER BY created_at_height`)
	if err != nil {
		return nil, fmt.Errorf("query intents: %w", err)
	}
	defer rows.Close()

	var out []intent.Intent
	for rows.Next() {
		var (
			idHex, state        string
			it                  intent.Intent
			deadline, createdAt int64
		)
		if err := rows.Scan(&idHex, &it.Submitter, &it.TargetAccount, &it.TargetVenue,
			&it.HealthRatioThreshold, &it.MinPrice, &deadline, &it.BondAmount,
			&state, &createdAt); err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}

		id, err := intent.ParseID(idHex)
		if err != nil {
			return nil, fmt.Errorf("recover intent: %w", err)
		}
		st, ok := intent.ParseState(state)
		if !ok {
			return nil, fmt.Errorf("recover intent %s: unknown state %q", idHex, state)
		}

		it.ID = id
		it.State = st
		it.Deadline = uint64(deadline)
		it.CreatedAt = uint64(createdAt)
		out = append(out, it)
	}
	return out, rows.Err()
}

// LoadExecutions returns every persisted execution record.
func (r *Recovery) LoadExecutions(ctx context.Context) ([]settlement.Execution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT intent_id, caller, venue, collateral_asset, debt_asset,
		       debt_repaid, collateral_seized, debt_value, seized_value,
		       profit, insurance_fee, treasury_fee, reward_accrued,
		       height, executed_at
		FROM liq.executions
		ORDER BY executed_at`)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []settlement.Execution
	for rows.Next() {
		var (
			ex     settlement.Execution
			height int64
		)
		if err := rows.Scan(&ex.IntentID, &ex.Caller, &ex.Venue, &ex.CollateralAsset,
			&ex.DebtAsset, &ex.DebtRepaid, &ex.CollateralSeized, &ex.DebtValue,
			&ex.SeizedValue, &ex.Profit, &ex.InsuranceFee, &ex.TreasuryFee,
			&ex.RewardAccrued, &height, &ex.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		ex.Height = uint64(height)
		out = append(out, ex)
	}
	return out, rows.Err()
}

// LoadInsuranceBalance derives the backstop balance from the append-only
// ledger: sum of credits minus sum of withdrawals.
func (r *Recovery) LoadInsuranceBalance(ctx context.Context) (int64, error) {
	var balance sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind = 'credit' THEN amount ELSE -amount END), 0)
		FROM liq.insurance_ledger`).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("query insurance balance: %w", err)
	}
	return balance.Int64, nil
}
