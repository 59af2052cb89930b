package domain

// AuthResult is the outcome of resolving a caller identity.
// It is either Authenticated or Rejected.
type AuthResult interface {
	authResult()
}

// Authenticated carries the resolved user identifier.
type Authenticated struct {
	UserID string
}

// Rejected carries the reason identity resolution failed.
type Rejected struct {
	Reason string
}

func (Authenticated) authResult() {}
func (Rejected) authResult()      {}
