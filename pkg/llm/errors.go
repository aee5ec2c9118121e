package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingCredential is returned when a provider that needs an API key
	// has none configured.
	ErrMissingCredential = errors.New("missing provider credential")

	// ErrInvalidCredential is returned when the provider rejects the API key.
	ErrInvalidCredential = errors.New("invalid provider credential")
)

// StatusError builds the error for a non-200 provider response. 401 and 403
// wrap ErrInvalidCredential.
func StatusError(provider string, status int, body []byte) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%w: %s API error (status %d): %s", ErrInvalidCredential, provider, status, string(body))
	}
	return fmt.Errorf("%s API error (status %d): %s", provider, status, string(body))
}
