package models

// IdentityKind distinguishes authenticated owners from anonymous guest sessions.
type IdentityKind string

const (
	IdentityOwner IdentityKind = "owner"
	IdentityGuest IdentityKind = "guest"
)

// Identity is the resolved caller of an entry point.
type Identity struct {
	Kind IdentityKind
	ID   string
}

// IsGuest reports whether the caller is an anonymous session.
func (i Identity) IsGuest() bool {
	return i.Kind == IdentityGuest
}

// CanAccess is the single authorization check used by every entry point.
func (i Identity) CanAccess(p *Project) bool {
	if p == nil || i.ID == "" {
		return false
	}
	switch i.Kind {
	case IdentityOwner:
		return p.OwnerID != "" && p.OwnerID == i.ID
	case IdentityGuest:
		return p.GuestID != "" && p.GuestID == i.ID
	default:
		return false
	}
}
