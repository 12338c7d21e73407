package settlement

import "time"

// Execution is the immutable record of a completed liquidation settlement.
// Records are append-only and keyed 1:1 with the intent id; a second
// settlement of the same intent fails before a record could be written.
type Execution struct {
	IntentID         string    `json:"intent_id"`
	Caller           string    `json:"caller"`
	Venue            string    `json:"venue"`
	CollateralAsset  string    `json:"collateral_asset"`
	DebtAsset        string    `json:"debt_asset"`
	DebtRepaid       int64     `json:"debt_repaid"`       // debt asset units
	CollateralSeized int64     `json:"collateral_seized"` // collateral asset units
	DebtValue        int64     `json:"debt_value"`        // quote units
	SeizedValue      int64     `json:"seized_value"`      // quote units
	Profit           int64     `json:"profit"`            // quote units, may be negative
	InsuranceFee     int64     `json:"insurance_fee"`     // quote units
	TreasuryFee      int64     `json:"treasury_fee"`      // quote units
	RewardAccrued    int64     `json:"reward_accrued"`    // quote units
	Height           uint64    `json:"height"`
	ExecutedAt       time.Time `json:"executed_at"`
}
