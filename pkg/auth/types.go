// Package auth carries the authenticated principal through request
// contexts and maps governance roles to permissions. Token issuance and
// identity verification live with the identity provider; this package
// only parses and checks claims.
package auth

// Permissions gate the governance write and decision surfaces.
const (
	PermRuleWrite       = "rules:write"
	PermRuleApprove     = "rules:approve"
	PermRulesetWrite    = "rulesets:write"
	PermRulesetApprove  = "rulesets:approve"
	PermRulesetActivate = "rulesets:activate"
	PermFieldWrite      = "fields:write"
	PermFieldApprove    = "fields:approve"
	PermRegistryPublish = "registry:publish"
	PermRead            = "read"
)

// Roles as carried in token claims.
const (
	RoleAdmin   = "admin"
	RoleMaker   = "maker"
	RoleChecker = "checker"
	RoleViewer  = "viewer"
)

// rolePermissions is the fixed role grant table. Makers draft, checkers
// decide; the maker-checker split is additionally enforced per entity by
// the approval engine.
var rolePermissions = map[string][]string{
	RoleMaker: {
		PermRuleWrite, PermRulesetWrite, PermFieldWrite, PermRead,
	},
	RoleChecker: {
		PermRuleApprove, PermRulesetApprove, PermRulesetActivate,
		PermFieldApprove, PermRegistryPublish, PermRead,
	},
	RoleViewer: {PermRead},
}

// Principal is any authenticated caller.
type Principal interface {
	GetID() string
	GetRoles() []string
	HasPermission(perm string) bool
}

// BasePrincipal is the claims-backed Principal implementation.
type BasePrincipal struct {
	ID    string
	Roles []string
}

func (b *BasePrincipal) GetID() string { return b.ID }

func (b *BasePrincipal) GetRoles() []string { return b.Roles }

// HasPermission reports whether any of the principal's roles grants perm.
// Admins hold every permission.
func (b *BasePrincipal) HasPermission(perm string) bool {
	for _, role := range b.Roles {
		if role == RoleAdmin {
			return true
		}
		for _, granted := range rolePermissions[role] {
			if granted == perm {
				return true
			}
		}
	}
	return false
}
