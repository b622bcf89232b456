package google

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

var (
	// ErrCredentialNotFound means the user never connected a Google account.
	ErrCredentialNotFound = errors.New("google: no stored credential")

	// ErrReauthRequired means the stored credential expired and could not be refreshed.
	ErrReauthRequired = errors.New("google: credential expired, re-authentication required")

	ErrUnauthorized = errors.New("google: unauthorised (invalid credentials)")
	ErrForbidden    = errors.New("google: forbidden (insufficient permissions)")
	ErrNotFound     = errors.New("google: resource not found")
	ErrRateLimited  = errors.New("google: rate limit exceeded")
)

// IsAuthError reports whether err means the caller must re-authenticate.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrCredentialNotFound) ||
		errors.Is(err, ErrReauthRequired) ||
		errors.Is(err, ErrUnauthorized)
}

// WrapError converts a Google API error to one of the package sentinels,
// keeping the original error in the chain.
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}

	switch gerr.Code {
	case http.StatusUnauthorized:
		return errors.Join(ErrUnauthorized, err)
	case http.StatusForbidden:
		return errors.Join(ErrForbidden, err)
	case http.StatusNotFound:
		return errors.Join(ErrNotFound, err)
	case http.StatusTooManyRequests:
		return errors.Join(ErrRateLimited, err)
	default:
		return err
	}
}
