package types

// SecretString prevents accidental logging or serialization of sensitive
// configuration values (Stripe keys, database URLs, admin keys). Both the
// fmt.Stringer and json.Marshaler implementations emit a fixed placeholder;
// Unmask returns the raw value where it is genuinely needed.
type SecretString string

const redacted = "***REDACTED***"

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redacted
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}
