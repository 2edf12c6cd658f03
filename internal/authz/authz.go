package authz

import (
	"sort"

	"github.com/geocoder89/authhub/internal/domain/permission"
	"github.com/geocoder89/authhub/internal/domain/user"
)

// Decision is the outcome of a permission check. When denied, Missing lists
// the required permissions the identity does not hold, sorted for stable
// responses.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Missing []string `json:"missing,omitempty"`
}

// Authorize checks a verified identity against a set of required permission
// names. Holding the wildcard permission grants everything, including checks
// with an empty requirement. With no required permissions any authenticated
// identity passes; that is the "requires login" case as opposed to
// "requires capability".
//
// Matching is exact and case-sensitive. The permission set must come from
// the current request's identity resolution; decisions are never cached.
func Authorize(identity user.Identity, required ...string) Decision {
	held := make(map[string]struct{}, len(identity.Permissions))

	for _, p := range identity.Permissions {
		held[p] = struct{}{}
	}

	// super-admin bypass
	if _, ok := held[permission.Wildcard]; ok {
		return Decision{Allowed: true}
	}

	var missing []string

	for _, p := range required {
		if _, ok := held[p]; !ok {
			missing = append(missing, p)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)

		return Decision{Allowed: false, Missing: missing}
	}

	return Decision{Allowed: true}
}
