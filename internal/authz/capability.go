// Package authz models privileged access as explicit capability values
// passed into each call, instead of a global owner key. Swapping in
// multi-signature or time-locked authorization only requires issuing
// capabilities differently; the engine's checks stay unchanged.
package authz

import "fmt"

// Role is the privilege level carried by a capability.
type Role uint8

const (
	RoleNone Role = iota
	RoleLiquidator
	RoleSettlementAuthority
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleLiquidator:
		return "liquidator"
	case RoleSettlementAuthority:
		return "settlement_authority"
	case RoleAdmin:
		return "admin"
	default:
		return "none"
	}
}

// Capability binds an actor identity to a role.
type Capability struct {
	Actor string
	Role  Role
}

// Liquidator returns an unprivileged capability for a submitter/caller.
func Liquidator(actor string) Capability {
	return Capability{Actor: actor, Role: RoleLiquidator}
}

// SettlementAuthority returns the capability held by the settlement engine.
func SettlementAuthority(actor string) Capability {
	return Capability{Actor: actor, Role: RoleSettlementAuthority}
}

// Admin returns a protocol-admin capability.
func Admin(actor string) Capability {
	return Capability{Actor: actor, Role: RoleAdmin}
}

// CanSlash reports whether the capability may slash a pending intent.
func (c Capability) CanSlash() bool {
	return c.Role == RoleSettlementAuthority || c.Role == RoleAdmin
}

// CanMarkExecuted reports whether the capability may finalize a settlement.
func (c Capability) CanMarkExecuted() bool {
	return c.Role == RoleSettlementAuthority
}

// CanAdministrate reports whether the capability may change venue lists or
// withdraw insurance funds.
func (c Capability) CanAdministrate() bool {
	return c.Role == RoleAdmin
}

func (c Capability) String() string {
	return fmt.Sprintf("%s(%s)", c.Role, c.Actor)
}
