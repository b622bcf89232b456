package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"docbrief/internal/metrics"
	"docbrief/internal/storage"
)

// Provider is the key under which Google tokens are stored.
const Provider = "google"

// refreshSkew treats a token as expired this long before its real expiry.
const refreshSkew = 60 * time.Second

var defaultScopes = []string{
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/calendar.readonly",
}

// NewOAuthConfig returns the client configuration used to refresh Google tokens.
func NewOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoints.Google,
		Scopes:       defaultScopes,
	}
}

// CredentialProvider hands out valid access tokens, refreshing stored ones
// once when they are about to expire.
type CredentialProvider struct {
	tokens  storage.TokenStore
	oauth   *oauth2.Config
	timeout time.Duration
	now     func() time.Time
}

func NewCredentialProvider(tokens storage.TokenStore, oauth *oauth2.Config, timeout time.Duration) *CredentialProvider {
	return &CredentialProvider{
		tokens:  tokens,
		oauth:   oauth,
		timeout: timeout,
		now:     time.Now,
	}
}

// GetValidCredential returns an access token for the user. Concurrent refreshes
// for the same user are not coordinated; the last saved token wins.
func (p *CredentialProvider) GetValidCredential(ctx context.Context, userID, provider string) (string, error) {
	stored, err := p.tokens.GetToken(ctx, userID, provider)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}

	if p.now().Add(refreshSkew).Before(stored.ExpiresAt) {
		return stored.AccessToken, nil
	}

	if stored.RefreshToken == "" {
		return "", ErrReauthRequired
	}

	refreshed, err := p.refresh(ctx, stored.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		slog.Warn("Token refresh failed", "user_id", userID, "provider", provider, "error", err)
		return "", fmt.Errorf("%w: %v", ErrReauthRequired, err)
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()

	expiresAt := refreshed.Expiry
	if expiresAt.IsZero() {
		expiresAt = p.now().Add(time.Hour)
	}

	update := &storage.OAuthToken{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  refreshed.AccessToken,
		RefreshToken: stored.RefreshToken,
		ExpiresAt:    expiresAt,
	}
	if refreshed.RefreshToken != "" {
		update.RefreshToken = refreshed.RefreshToken
	}

	if err := p.tokens.SaveToken(ctx, update); err != nil {
		// The refreshed token is still good for this call.
		slog.Error("Failed to persist refreshed token", "user_id", userID, "error", err)
	}

	return refreshed.AccessToken, nil
}

func (p *CredentialProvider) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	src := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}
