// Package session caches Service Layer session tokens per tenant and
// coalesces concurrent logins for the same tenant into a single call.
package session

import (
	"fmt"
	"time"
)

// DefaultTTL is how long a session token is reused before a new login is forced.
const DefaultTTL = 10 * time.Minute

// Credential identifies a tenant (company database) and the user logging into it.
// The JSON field names match the Service Layer login payload.
type Credential struct {
	CompanyDB string `json:"CompanyDB"`
	UserName  string `json:"UserName"`
	Password  string `json:"Password"`
}

// Validate reports whether all credential fields are present.
func (c Credential) Validate() error {
	switch {
	case c.CompanyDB == "":
		return fmt.Errorf("%w: company db is required", ErrIncompleteCredential)
	case c.UserName == "":
		return fmt.Errorf("%w: username is required", ErrIncompleteCredential)
	case c.Password == "":
		return fmt.Errorf("%w: password is required", ErrIncompleteCredential)
	}
	return nil
}

// String never includes the password.
func (c Credential) String() string {
	return fmt.Sprintf("%s@%s", c.UserName, c.CompanyDB)
}

// Token is a cached session id for one tenant.
type Token struct {
	// Value is the opaque session id returned by the login endpoint
	Value string `json:"value"`

	// IssuedAt is when the login that produced Value completed
	IssuedAt time.Time `json:"issued_at"`
}

// IsValid reports whether the token can still be used at now.
func (t Token) IsValid(now time.Time, ttl time.Duration) bool {
	if t.Value == "" || t.IssuedAt.IsZero() {
		return false
	}
	return now.Sub(t.IssuedAt) <= ttl
}

// Remaining returns the time left before the token expires.
// Returns 0 if already expired.
func (t Token) Remaining(now time.Time, ttl time.Duration) time.Duration {
	left := ttl - now.Sub(t.IssuedAt)
	if left < 0 {
		return 0
	}
	return left
}
