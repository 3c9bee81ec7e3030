// Package secrets resolves secret references found in the facilitator
// configuration. Resolution and caching live behind the Resolver interface
// so deployments can plug in a secret manager without touching the core.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Resolver turns a secret reference from the config file into its value.
type Resolver interface {
	Resolve(ref string) (string, error)
}

// EnvResolver resolves "env:NAME" references from the process environment
// and passes literal values through unchanged.
type EnvResolver struct{}

func (EnvResolver) Resolve(ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, "env:")
	if !ok {
		return ref, nil
	}
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return value, nil
}

// StaticResolver serves fixed values, for tests.
type StaticResolver map[string]string

func (s StaticResolver) Resolve(ref string) (string, error) {
	if v, ok := s[ref]; ok {
		return v, nil
	}
	return ref, nil
}
