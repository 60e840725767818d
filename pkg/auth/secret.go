package auth

// Secret is a string type that redacts its value in String(), GoString(),
// and MarshalText() to prevent accidental exposure in logs, JSON output,
// or fmt.Printf. The actual value is only accessible via the
// [Secret.Value] method, which should be called only where the raw value
// is truly needed (e.g., comparing against a presented credential).
type Secret string

// secretRedacted is the placeholder text shown instead of the actual
// secret value when the secret is printed, formatted, or serialized.
const secretRedacted = "[REDACTED]"

// String returns the redacted placeholder, preventing the secret from
// being printed via fmt.Println, log.Printf, or similar functions.
func (s Secret) String() string { return secretRedacted }

// GoString returns the redacted placeholder, preventing the secret from
// being printed via fmt.Printf("%#v", secret).
func (s Secret) GoString() string { return secretRedacted }

// Value returns the actual secret string. This is the only way to access
// the underlying value.
func (s Secret) Value() string { return string(s) }

// MarshalText implements [encoding.TextMarshaler], returning the redacted
// placeholder. This prevents the secret from leaking into JSON, YAML, or
// any other text-based serialization format.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// IsSet reports whether the secret holds a non-empty value. Configuration
// validation uses this instead of Value() so the raw value never appears
// in validation code paths.
func (s Secret) IsSet() bool { return len(s) > 0 }
