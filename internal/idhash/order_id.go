package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// ComputeOrderID computes a deterministic order_id using SHA256.
// Formula: SHA256(wallet|action|token_in|token_out|amount|amount_kind|slippage|origin|idempotency_key)
// CreatedAt and Confidence are excluded so a retried request maps to the same id.
// When the intent carries its requested terms, amount, amount_kind and
// slippage are taken from those rather than from the resolved values.
func ComputeOrderID(intent domain.TradeIntent, idempotencyKey string) string {
	amount, kind, slippageBps := intent.Amount, intent.AmountKind, intent.MaxSlippageBps
	if r := intent.Requested; r != nil {
		amount, kind, slippageBps = r.Amount, r.AmountKind, r.MaxSlippageBps
	}
	slippage := "-"
	if slippageBps != nil {
		slippage = fmt.Sprintf("%d", *slippageBps)
	}

	data := strings.Join([]string{
		strings.ToLower(intent.Wallet),
		string(intent.Action),
		intent.TokenIn,
		intent.TokenOut,
		amount.String(),
		string(kind),
		slippage,
		intent.Origin,
		idempotencyKey,
	}, "|")

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
