// Package secret resolves per-user credentials for node execution. The
// engine never stores secrets itself: it composes a vault dereference,
// a config literal, and a process-wide default, in that order, behind
// one narrow Resolver interface. The vault is an external collaborator
// injected as a VaultClient.
package secret

import (
	"context"
	"fmt"

	"github.com/genflow/workflow-engine/graph"
)

// Resolver looks up the secret for logicalKey on behalf of userID,
// consulting the node's config for a "{logicalKey}_secret_id" vault
// reference or a literal value. The second return reports whether a
// secret was found at all; err is reserved for lookups that failed
// rather than missed.
type Resolver interface {
	Resolve(ctx context.Context, userID *string, logicalKey string, config map[string]graph.Value) (string, bool, error)
}

// VaultClient is the external vault the _secret_id indirection
// dereferences through. Encryption, audit logging, and storage are the
// vault's concern, not the engine's.
type VaultClient interface {
	Fetch(ctx context.Context, userID *string, secretID string) (string, error)
}

// ChainResolver implements the three-strategy composition: vault
// reference first, config literal second, process-wide default last.
type ChainResolver struct {
	vault    VaultClient
	defaults map[string]string
}

// NewChainResolver builds a ChainResolver. vault may be nil when no
// vault is deployed (local development); defaults may be nil.
func NewChainResolver(vault VaultClient, defaults map[string]string) *ChainResolver {
	return &ChainResolver{vault: vault, defaults: defaults}
}

const secretIDSuffix = "_secret_id"

func (r *ChainResolver) Resolve(ctx context.Context, userID *string, logicalKey string, config map[string]graph.Value) (string, bool, error) {
	if v, ok := config[logicalKey+secretIDSuffix]; ok && v.Kind == graph.KindString && v.Str != "" {
		if r.vault == nil {
			return "", false, &graph.NodeError{
				Message: fmt.Sprintf("secret %q references vault id but no vault is configured", logicalKey),
				Kind:    graph.KindSecretNotFound,
				Cause:   graph.ErrSecretNotFound,
			}
		}
		s, err := r.vault.Fetch(ctx, userID, v.Str)
		if err != nil {
			return "", false, &graph.NodeError{
				Message: fmt.Sprintf("vault lookup for %q failed: %v", logicalKey, err),
				Kind:    graph.KindSecretNotFound,
				Cause:   err,
			}
		}
		return s, true, nil
	}

	if v, ok := config[logicalKey]; ok && v.Kind == graph.KindString && v.Str != "" {
		return v.Str, true, nil
	}

	if d, ok := r.defaults[logicalKey]; ok && d != "" {
		return d, true, nil
	}
	return "", false, nil
}

// StaticResolver serves only a fixed map. Used in tests and in
// single-tenant deployments with environment-provided credentials.
type StaticResolver map[string]string

func (r StaticResolver) Resolve(_ context.Context, _ *string, logicalKey string, config map[string]graph.Value) (string, bool, error) {
	if v, ok := config[logicalKey]; ok && v.Kind == graph.KindString && v.Str != "" {
		return v.Str, true, nil
	}
	s, ok := r[logicalKey]
	return s, ok && s != "", nil
}

// Require resolves logicalKey through res and converts a miss into the
// ErrSecretNotFound the scheduler treats as a permanent node failure.
func Require(ctx context.Context, res Resolver, userID *string, logicalKey string, config map[string]graph.Value) (string, error) {
	if res == nil {
		return "", &graph.NodeError{
			Message: fmt.Sprintf("no secret resolver configured, cannot resolve %q", logicalKey),
			Kind:    graph.KindSecretNotFound,
			Cause:   graph.ErrSecretNotFound,
		}
	}
	s, ok, err := res.Resolve(ctx, userID, logicalKey, config)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &graph.NodeError{
			Message: fmt.Sprintf("secret %q not found", logicalKey),
			Kind:    graph.KindSecretNotFound,
			Cause:   graph.ErrSecretNotFound,
		}
	}
	return s, nil
}
