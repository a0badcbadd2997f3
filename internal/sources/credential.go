package sources

import "fmt"

// CredentialKind discriminates the CredentialBundle tagged union.
type CredentialKind string

const (
	CredAnonymous CredentialKind = "anonymous"
	CredAPIKey    CredentialKind = "api_key"
	CredLogin     CredentialKind = "login"
	CredToken     CredentialKind = "token"
	CredUserKey   CredentialKind = "user_key"
	CredVhost     CredentialKind = "vhost"
)

// CredentialBundle is a tagged variant over every shape a site's auth
// block can take. Exactly the fields relevant to Kind are populated;
// adapters that receive a bundle whose Kind they don't accept must
// fail with a configuration error rather than silently ignoring
// fields.
type CredentialBundle struct {
	Kind CredentialKind

	APIKey string // CredAPIKey

	Login    string // CredLogin, CredToken
	Password string // CredLogin, CredToken

	TokenRoute string // CredToken

	UserAPIKey string // CredUserKey: api_key
	UserKey    string // CredUserKey: user_key

	Vhost string // CredVhost
}

// Accepts returns an error if the bundle's Kind is not one of the
// adapter-accepted kinds. Adapters call this once at construction time.
func (c CredentialBundle) Accepts(accepted ...CredentialKind) error {
	for _, k := range accepted {
		if c.Kind == k {
			return nil
		}
	}
	return fmt.Errorf("sources: credential kind %q not accepted here (want one of %v)", c.Kind, accepted)
}
