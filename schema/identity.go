package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingIdentity is returned when a property map lacks one of the
// components of its type's identity.
var ErrMissingIdentity = errors.New("missing identity component")

// IdentityValue composes label's identity value from props by joining the
// identity components with "-". If props already carries the identity
// property it is returned unchanged.
func (r *Registry) IdentityValue(label string, props map[string]any) (string, error) {
	e, err := r.lookup(label)
	if err != nil {
		return "", err
	}
	if v, ok := props[e.identityProperty]; ok && v != nil {
		return fmt.Sprint(v), nil
	}

	parts := make([]string, 0, len(e.Identity))
	var missing []string
	for _, c := range e.Identity {
		v, ok := props[c]
		if !ok || v == nil {
			missing = append(missing, c)
			continue
		}
		parts = append(parts, fmt.Sprint(v))
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s requires %s", ErrMissingIdentity, label, strings.Join(missing, ", "))
	}
	return strings.Join(parts, "-"), nil
}

// EnvironmentIdentity returns the root identity for an account and name.
func EnvironmentIdentity(account, name string) string {
	return account + "-" + name
}
