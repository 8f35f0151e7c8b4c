package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// SessionAuth verifies wallet session tokens issued by the external auth
// service after it has checked NFT ownership. A token has the form
// "<wallet>.<unix expiry>.<hex HMAC-SHA256 of wallet.expiry>".
type SessionAuth struct {
	secret []byte
	now    func() time.Time
}

// NewSessionAuth creates a verifier for the shared secret.
func NewSessionAuth(secret string) *SessionAuth {
	return &SessionAuth{secret: []byte(secret), now: time.Now}
}

// Issue creates a token for wallet valid until expiry. The server only
// verifies tokens; Issue exists for the auth service and for tests.
func (a *SessionAuth) Issue(wallet string, expiry time.Time) string {
	payload := strings.ToLower(wallet) + "." + strconv.FormatInt(expiry.Unix(), 10)
	return payload + "." + a.sign(payload)
}

// Verify checks the signature and expiry and returns the lowercased wallet.
// Every failure wraps domain.ErrUnauthorized.
func (a *SessionAuth) Verify(token string) (string, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("crypto: malformed session token: %w", domain.ErrUnauthorized)
	}
	wallet, expRaw, sig := parts[0], parts[1], parts[2]

	if !common.IsHexAddress(wallet) {
		return "", fmt.Errorf("crypto: session wallet %q: %w", wallet, domain.ErrUnauthorized)
	}
	want, err := hex.DecodeString(a.sign(wallet + "." + expRaw))
	if err != nil {
		return "", fmt.Errorf("crypto: sign session: %w", err)
	}
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(got, want) {
		return "", fmt.Errorf("crypto: bad session signature: %w", domain.ErrUnauthorized)
	}

	exp, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil {
		return "", fmt.Errorf("crypto: session expiry %q: %w", expRaw, domain.ErrUnauthorized)
	}
	if !a.now().Before(time.Unix(exp, 0)) {
		return "", fmt.Errorf("crypto: session expired: %w", domain.ErrUnauthorized)
	}
	return strings.ToLower(wallet), nil
}

func (a *SessionAuth) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
