// Package keys defines the hierarchical topic identifiers used across the
// catchup bus: concrete Keys naming one data stream, and wildcard-capable
// Patterns matching a set of Keys.
//
// Keys are slash-delimited ("fleet/alpha/gps"). Patterns may use "*" to
// match exactly one token and a terminal "**" to match one or more trailing
// tokens. Both map one-to-one onto NATS subjects ("/" becomes ".", "**"
// becomes ">") so the bus transport can route them natively.
package keys

import (
	"fmt"
	"strings"

	"github.com/c360/catchup/errors"
)

// DefaultPrefix is the NATS subject prefix under which sample data flows.
const DefaultPrefix = "catchup.data"

const (
	// WildcardToken matches exactly one key token.
	WildcardToken = "*"
	// WildcardTail matches one or more trailing key tokens. Terminal only.
	WildcardTail = "**"
)

// Key is a concrete slash-delimited topic identifier for one data stream.
type Key string

// Pattern is a wildcard-capable topic expression matching a set of Keys.
// Every valid Key is also a valid Pattern matching only itself.
type Pattern string

// ParseKey validates s as a concrete Key.
func ParseKey(s string) (Key, error) {
	if err := validateTokens(s, false); err != nil {
		return "", errors.WrapInvalid(err, "keys", "ParseKey", "validate key")
	}
	return Key(s), nil
}

// ParsePattern validates s as a Pattern.
func ParsePattern(s string) (Pattern, error) {
	if err := validateTokens(s, true); err != nil {
		return "", errors.WrapInvalid(err, "keys", "ParsePattern", "validate pattern")
	}
	return Pattern(s), nil
}

func validateTokens(s string, wildcards bool) error {
	if s == "" {
		return fmt.Errorf("%w: empty", errors.ErrInvalidKey)
	}
	tokens := strings.Split(s, "/")
	for i, tok := range tokens {
		switch {
		case tok == "":
			return fmt.Errorf("%w: empty token in %q", errors.ErrInvalidKey, s)
		case tok == WildcardToken:
			if !wildcards {
				return fmt.Errorf("%w: wildcard in concrete key %q", errors.ErrInvalidKey, s)
			}
		case tok == WildcardTail:
			if !wildcards {
				return fmt.Errorf("%w: wildcard in concrete key %q", errors.ErrInvalidKey, s)
			}
			if i != len(tokens)-1 {
				return fmt.Errorf("%w: %q must be the last token in %q", errors.ErrInvalidKey, WildcardTail, s)
			}
		case strings.ContainsAny(tok, ".*>"):
			// "." and ">" are reserved by the NATS subject mapping.
			return fmt.Errorf("%w: token %q contains reserved characters", errors.ErrInvalidKey, tok)
		}
	}
	return nil
}

// Validate reports whether the Key is well formed.
func (k Key) Validate() error {
	_, err := ParseKey(string(k))
	return err
}

// Tokens returns the slash-separated tokens of the key.
func (k Key) Tokens() []string {
	return strings.Split(string(k), "/")
}

// Subject maps the key onto a NATS subject under the given prefix.
func (k Key) Subject(prefix string) string {
	return prefix + "." + strings.ReplaceAll(string(k), "/", ".")
}

func (k Key) String() string { return string(k) }

// Validate reports whether the Pattern is well formed.
func (p Pattern) Validate() error {
	_, err := ParsePattern(string(p))
	return err
}

// IsConcrete reports whether the pattern contains no wildcards and therefore
// names exactly one key.
func (p Pattern) IsConcrete() bool {
	for _, tok := range strings.Split(string(p), "/") {
		if tok == WildcardToken || tok == WildcardTail {
			return false
		}
	}
	return true
}

// Matches reports whether the concrete key falls within the pattern.
// "*" consumes exactly one token; a terminal "**" consumes one or more.
func (p Pattern) Matches(k Key) bool {
	pt := strings.Split(string(p), "/")
	kt := strings.Split(string(k), "/")

	for i, tok := range pt {
		if tok == WildcardTail {
			// Must consume at least one remaining token.
			return len(kt) > i
		}
		if i >= len(kt) {
			return false
		}
		if tok != WildcardToken && tok != kt[i] {
			return false
		}
	}
	return len(kt) == len(pt)
}

// Subject maps the pattern onto a NATS subject filter under the given
// prefix: "*" stays a single-token wildcard and "**" becomes ">".
func (p Pattern) Subject(prefix string) string {
	mapped := strings.ReplaceAll(string(p), "/", ".")
	if strings.HasSuffix(mapped, WildcardTail) {
		mapped = strings.TrimSuffix(mapped, WildcardTail) + ">"
	}
	return prefix + "." + mapped
}

func (p Pattern) String() string { return string(p) }

// KeyFromSubject recovers the concrete Key from a NATS subject previously
// produced by Key.Subject with the same prefix.
func KeyFromSubject(prefix, subject string) (Key, error) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok || rest == "" {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: subject %q not under prefix %q", errors.ErrInvalidKey, subject, prefix),
			"keys", "KeyFromSubject", "strip prefix")
	}
	return ParseKey(strings.ReplaceAll(rest, ".", "/"))
}
