// Package credentials classifies API credentials loaded from the environment.
//
// Several branches of the request pipeline key off whether a credential is
// actually usable, not merely set: deployments frequently ship with template
// values like "your-openai-api-key" still in place, and the gateway must treat
// those the same as an unset variable. Resolution happens once at
// configuration-load time; consumers branch on the resulting Status value
// instead of re-running string comparisons per request.
package credentials

import (
	"os"
	"strings"
)

// Status classifies a credential value.
type Status int

const (
	// Missing means the variable is unset or empty.
	Missing Status = iota

	// Placeholder means a value is set but looks like a template or test
	// value that cannot authenticate against the real provider.
	Placeholder

	// Present means the value plausibly works. This is a best-effort
	// heuristic (length and known-prefix checks), not verification; a
	// Present credential can still be rejected by the provider at call time.
	Present
)

// String returns the lowercase name of the status, for logs and span tags.
func (s Status) String() string {
	switch s {
	case Missing:
		return "missing"
	case Placeholder:
		return "placeholder"
	case Present:
		return "present"
	default:
		return "unknown"
	}
}

// placeholderTokens are substrings that mark a value as a template default.
// Matched case-insensitively against the whole value.
var placeholderTokens = []string{
	"your-",
	"your_",
	"placeholder",
	"changeme",
	"change-me",
	"xxxx",
	"dummy",
	"example",
}

// minPlausibleLength is the shortest value treated as a real secret. Real
// provider keys are well over this; anything shorter is almost certainly a
// stub. Best-effort, documented as such.
const minPlausibleLength = 20

// Resolve classifies a raw credential value.
func Resolve(value string) Status {
	value = strings.TrimSpace(value)
	if value == "" {
		return Missing
	}

	lower := strings.ToLower(value)
	for _, tok := range placeholderTokens {
		if strings.Contains(lower, tok) {
			return Placeholder
		}
	}
	if strings.Contains(lower, "test") {
		return Placeholder
	}
	if len(value) < minPlausibleLength {
		return Placeholder
	}
	return Present
}

// ResolveEnv classifies the credential stored in the named environment
// variable.
func ResolveEnv(name string) Status {
	return Resolve(os.Getenv(name))
}

// Usable reports whether the status should be treated as a working
// credential.
func (s Status) Usable() bool {
	return s == Present
}
