// Package authz holds the charter role registry and enforces the
// single-gate-owner rule.
//
// The "one authoritative gate, one owner" invariant is enforced here
// programmatically, at registration and again at write time, so a
// misconfigured second owner is rejected rather than merely discouraged.
package authz

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chorus-dao/kodo/internal/model"
)

// ErrPermissionDenied is returned when a charter attempts an operation its
// role does not allow. Fatal to the attempted operation; no partial writes.
var ErrPermissionDenied = errors.New("authz: permission denied")

// ErrDuplicateOwner is returned when a second charter is granted the
// gate-owner role.
var ErrDuplicateOwner = errors.New("authz: gate owner already assigned")

// Registry maps charter ids to their protocol roles.
type Registry struct {
	mu     sync.RWMutex
	grants map[string]map[model.Role]bool
	owner  string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{grants: map[string]map[model.Role]bool{}}
}

// Grant assigns a role to a charter. Granting RoleGateOwner to a second
// charter fails with ErrDuplicateOwner; granting it twice to the same
// charter is a no-op.
func (r *Registry) Grant(charterID string, role model.Role) error {
	if charterID == "" {
		return fmt.Errorf("authz: charter id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if role == model.RoleGateOwner {
		if r.owner != "" && r.owner != charterID {
			return fmt.Errorf("authz: %q already owns the gate, cannot grant to %q: %w",
				r.owner, charterID, ErrDuplicateOwner)
		}
		r.owner = charterID
	}
	if r.grants[charterID] == nil {
		r.grants[charterID] = map[model.Role]bool{}
	}
	r.grants[charterID][role] = true
	return nil
}

// Has reports whether the charter holds the role.
func (r *Registry) Has(charterID string, role model.Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grants[charterID][role]
}

// GateOwner returns the charter holding the gate-owner role, if any.
func (r *Registry) GateOwner() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner, r.owner != ""
}

// Charters returns all registered charter ids, sorted.
func (r *Registry) Charters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.grants))
	for id := range r.grants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
