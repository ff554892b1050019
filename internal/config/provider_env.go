package config

import (
	"context"
	"os"
)

// EnvVarProvider resolves a secret reference by reading the environment
// variable it names. Deployments that inject secrets under their own names
// (for example a Lambda extension writing SENDGRID_KEY_V3) point
// SENDGRID_API_KEY_SECRET_REF at that name.
type EnvVarProvider struct {
	lookup envLookup
}

// NewEnvVarProvider creates an EnvVarProvider backed by os.LookupEnv.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{lookup: os.LookupEnv}
}

// Resolve looks every reference up as a variable name. Missing variables are
// omitted.
func (p *EnvVarProvider) Resolve(_ context.Context, refs []string) (map[string]string, error) {
	lookup := p.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	result := make(map[string]string, len(refs))
	for _, ref := range refs {
		if val, ok := lookup(ref); ok {
			result[ref] = val
		}
	}
	return result, nil
}
