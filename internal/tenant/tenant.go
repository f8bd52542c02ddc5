// Package tenant provides the organization scope that partitions every
// read and write of the local store. One Scope is constructed at startup
// and injected into the components that need it; there is no package-level
// current organization.
package tenant

import "sync"

// Scope holds the active organization id for this process.
//
// The scope is set at login/setup and cleared at logout. While unset,
// tenant-filtered reads return zero-valued defaults rather than unfiltered
// rows.
type Scope struct {
	mu    sync.RWMutex
	orgID int64
	set   bool
}

// NewScope returns an empty scope with no active organization.
func NewScope() *Scope {
	return &Scope{}
}

// NewScopeFor returns a scope with the given organization active.
// Non-positive ids leave the scope unset.
func NewScopeFor(orgID int64) *Scope {
	s := &Scope{}
	s.SetOrganization(orgID)
	return s
}

// SetOrganization activates the given organization id.
// Non-positive ids are ignored; use Clear to deactivate.
func (s *Scope) SetOrganization(orgID int64) {
	if orgID <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgID = orgID
	s.set = true
}

// Clear deactivates the scope, as on logout.
func (s *Scope) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgID = 0
	s.set = false
}

// OrganizationID returns the active organization id and whether one is set.
func (s *Scope) OrganizationID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orgID, s.set
}

// Active reports whether an organization is currently set.
func (s *Scope) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}
