package ledger

import (
	"crypto/sha256"
	"fmt"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCollateral AccountSubType = iota
	SubTypeRewards

	// System sub-types
	SubTypeSystemBondEscrow
	SubTypeSystemInsuranceFund
	SubTypeSystemTreasury
	SubTypeSystemSettlement

	// External sub-types
	SubTypeExternalVenue
	SubTypeExternalFunding
)

// AssetID maps asset symbols to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"NATIVE": 1,
		"USDC":   2,
		"ETH":    3,
		"WBTC":   4,
	}
	idToAsset = map[AssetID]string{
		1: "NATIVE",
		2: "USDC",
		3: "ETH",
		4: "WBTC",
	}
)

// QuoteAsset is the asset all settlement valuations are denominated in.
const QuoteAsset = "USDC"

// NativeAsset is the asset bonds are posted in.
const NativeAsset = "NATIVE"

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (20 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // truncated hash of the actor address or system account name
	SubType  AccountSubType
	AssetID  AssetID
}

// entityHash folds an arbitrary identity string into the fixed-width key field.
func entityHash(identity string) [16]byte {
	sum := sha256.Sum256([]byte(identity))
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

// NewUserAccountKey creates a key for a liquidator/submitter account
func NewUserAccountKey(actor string, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: entityHash(actor),
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for protocol-owned accounts
func NewSystemAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityHash(name),
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// BondEscrowKey is the system account holding all pending intent bonds.
func BondEscrowKey() AccountKey {
	nativeID, _ := GetAssetID(NativeAsset)
	return NewSystemAccountKey("bond_escrow", SubTypeSystemBondEscrow, nativeID)
}

// InsuranceFundKey is the system account holding in-kind insurance assets.
func InsuranceFundKey(assetID AssetID) AccountKey {
	return NewSystemAccountKey("insurance", SubTypeSystemInsuranceFund, assetID)
}

// TreasuryKey is the protocol treasury account.
func TreasuryKey(assetID AssetID) AccountKey {
	return NewSystemAccountKey("treasury", SubTypeSystemTreasury, assetID)
}

// SettlementKey is the engine's working account during the atomic settlement step.
func SettlementKey(assetID AssetID) AccountKey {
	return NewSystemAccountKey("settlement", SubTypeSystemSettlement, assetID)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%x:%s:%s", k.EntityID, k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeRewards:
		return "rewards"
	case SubTypeSystemBondEscrow:
		return "bond_escrow"
	case SubTypeSystemInsuranceFund:
		return "insurance_fund"
	case SubTypeSystemTreasury:
		return "treasury"
	case SubTypeSystemSettlement:
		return "settlement"
	case SubTypeExternalVenue:
		return "venue"
	case SubTypeExternalFunding:
		return "funding"
	default:
		return "unknown"
	}
}
