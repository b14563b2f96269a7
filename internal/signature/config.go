package signature

// Algorithm selects the HMAC hash used for signing.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// Config enumerates every knob of the signing scheme. Zero values fall back
// to the documented defaults via Normalize.
type Config struct {
	Algorithm           Algorithm
	HeaderName          string // default X-Webhook-Signature
	TimestampHeaderName string // default X-Webhook-Timestamp
	OmitTimestamp       bool   // drop the timestamp header, sent by default
	ToleranceSeconds    int    // replay window, default 300
}

// DefaultConfig returns the engine-wide signing defaults.
func DefaultConfig() Config {
	return Config{
		Algorithm:           SHA256,
		HeaderName:          "X-Webhook-Signature",
		TimestampHeaderName: "X-Webhook-Timestamp",
		ToleranceSeconds:    300,
	}
}

// Normalize fills unset fields with defaults and returns the result.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.Algorithm != SHA256 && c.Algorithm != SHA512 {
		c.Algorithm = def.Algorithm
	}
	if c.HeaderName == "" {
		c.HeaderName = def.HeaderName
	}
	if c.TimestampHeaderName == "" {
		c.TimestampHeaderName = def.TimestampHeaderName
	}
	if c.ToleranceSeconds <= 0 {
		c.ToleranceSeconds = def.ToleranceSeconds
	}
	return c
}
