package domain

// Role controls which surfaces a token may reach.
type Role string

const (
	RoleBidder   Role = "bidder"   // public API: register, bid
	RoleAdmin    Role = "admin"    // full back-office access
	RoleFinance  Role = "finance"  // sales, captures, hold reconciliation
	RoleOps      Role = "ops"      // closing runs, settings reload
	RoleReadOnly Role = "readonly" // read-only back-office access
)

// CanAccessBackoffice returns true for all non-bidder roles.
func (r Role) CanAccessBackoffice() bool {
	switch r {
	case RoleAdmin, RoleFinance, RoleOps, RoleReadOnly:
		return true
	}
	return false
}

// CanOperate returns true for roles allowed to trigger state-changing
// back-office actions.
func (r Role) CanOperate() bool {
	return r == RoleAdmin || r == RoleFinance || r == RoleOps
}
