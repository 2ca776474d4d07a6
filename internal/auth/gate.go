package auth

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	fbauth "firebase.google.com/go/v4/auth"

	"github.com/tinywideclouds/go-chatpush-service/pkg/dispatch"
)

var bearerPattern = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

// Verifier checks a Firebase ID token. *auth.Client satisfies it.
type Verifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// Gate authorizes push requests before any directory lookup happens.
type Gate struct {
	verifier Verifier
	logger   *slog.Logger
}

func NewGate(verifier Verifier, logger *slog.Logger) *Gate {
	return &Gate{
		verifier: verifier,
		logger:   logger.With("component", "AuthGate"),
	}
}

// Verify checks the bearer credential in header and returns the verified uid.
func (g *Gate) Verify(ctx context.Context, header string) (string, error) {
	idToken, ok := BearerToken(header)
	if !ok {
		return "", dispatch.ErrUnauthenticated
	}

	token, err := g.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		g.logger.Warn("ID token verification failed", "err", err)
		return "", fmt.Errorf("%w: %w", dispatch.ErrUnverifiable, err)
	}
	if token == nil || token.UID == "" {
		return "", dispatch.ErrUnverifiable
	}
	return token.UID, nil
}

// CheckClaim rejects a body uid that differs from the verified one. An empty
// claim is accepted.
func (g *Gate) CheckClaim(verifiedUID, claimedUID string) error {
	if claimedUID != "" && claimedUID != verifiedUID {
		g.logger.Warn("Claimed uid does not match credential", "claimed_uid", claimedUID, "verified_uid", verifiedUID)
		return dispatch.ErrForbidden
	}
	return nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, bool) {
	m := bearerPattern.FindStringSubmatch(header)
	if m == nil {
		return "", false
	}
	return m[1], true
}
