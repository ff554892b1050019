package config

import "context"

// SecretProvider resolves secret references to plaintext values. A reference
// is whatever the deployment stores in a <NAME>_SECRET_REF variable.
type SecretProvider interface {
	// Resolve returns the value of every reference it could resolve.
	// Unresolvable references are omitted rather than reported as errors;
	// the loader reports them by name.
	Resolve(ctx context.Context, refs []string) (map[string]string, error)
}
