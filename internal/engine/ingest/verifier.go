package ingest

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"hooksync/internal/platform/config"
	"hooksync/internal/platform/models"
)

const (
	SchemeSharedSecret = "shared_secret"
	SchemeBasic        = "basic"
	SchemeHMAC         = "hmac"
)

var (
	ErrUnknownSource = errors.New("unknown webhook source")
	ErrUnauthorized  = errors.New("webhook authentication failed")
)

// Verifier authenticates deliveries with the scheme configured per source.
type Verifier struct {
	sources map[string]config.SourceAuth
}

func NewVerifier(sources map[string]config.SourceAuth) *Verifier {
	return &Verifier{sources: sources}
}

// Verify returns ErrUnknownSource for a source hooksync does not know and
// ErrUnauthorized for every credential failure, including a known source
// with no configured scheme.
func (v *Verifier) Verify(source string, r *http.Request, body []byte) error {
	if !models.IsSource(source) {
		return ErrUnknownSource
	}
	auth, ok := v.sources[source]
	if !ok {
		return ErrUnauthorized
	}

	switch auth.Scheme {
	case SchemeSharedSecret:
		header := auth.Header
		if header == "" {
			header = "X-Webhook-Secret"
		}
		if auth.Secret == "" || !constantEqual(r.Header.Get(header), auth.Secret) {
			return ErrUnauthorized
		}
		return nil

	case SchemeBasic:
		user, pass, ok := r.BasicAuth()
		if !ok || !constantEqual(user, auth.Username) {
			return ErrUnauthorized
		}
		if strings.HasPrefix(auth.PasswordHash, "$2") {
			if bcrypt.CompareHashAndPassword([]byte(auth.PasswordHash), []byte(pass)) != nil {
				return ErrUnauthorized
			}
			return nil
		}
		if auth.Secret == "" || !constantEqual(pass, auth.Secret) {
			return ErrUnauthorized
		}
		return nil

	case SchemeHMAC:
		header := auth.Header
		if header == "" {
			header = "X-Signature"
		}
		if auth.Secret == "" || !VerifySignature(auth.Secret, body, r.Header.Get(header)) {
			return ErrUnauthorized
		}
		return nil

	default:
		return ErrUnauthorized
	}
}

func constantEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
