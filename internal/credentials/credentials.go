// Package credentials resolves the recorder login for a store.
package credentials

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no credentials exist for a store
var ErrNotFound = errors.New("credentials not found")

// Credentials is the recorder login and address for one store
type Credentials struct {
	Username string
	Password string
	Host     string
}

// Validate reports a missing field
func (c Credentials) Validate() error {
	switch {
	case c.Username == "":
		return fmt.Errorf("username is empty")
	case c.Password == "":
		return fmt.Errorf("password is empty")
	case c.Host == "":
		return fmt.Errorf("host is empty")
	}
	return nil
}

// Provider looks up credentials for a store identifier
type Provider interface {
	Lookup(ctx context.Context, storeID string) (Credentials, error)
}

// StaticProvider returns the same credentials for every store
type StaticProvider struct {
	Creds Credentials
}

// Lookup implements Provider
func (p StaticProvider) Lookup(ctx context.Context, storeID string) (Credentials, error) {
	if err := p.Creds.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("static credentials for store %s: %w", storeID, err)
	}
	return p.Creds, nil
}
