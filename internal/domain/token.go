package domain

import (
	"sort"
	"strings"
)

// Token is a supported asset. An empty Address means the chain's native coin.
type Token struct {
	Symbol      string `json:"symbol"`
	Address     string `json:"address,omitempty"`
	Decimals    int    `json:"decimals"`
	CoingeckoID string `json:"coingecko_id,omitempty"`
}

// Native reports whether the token is the chain's native coin.
func (t Token) Native() bool { return t.Address == "" }

// TokenRegistry maps symbols and aliases to canonical tokens. It is built
// once at startup and read concurrently afterwards.
type TokenRegistry struct {
	bySymbol map[string]Token
	byKey    map[string]string
}

// NewTokenRegistry builds a registry. Aliases map onto the token's symbol.
func NewTokenRegistry(tokens []Token, aliases map[string][]string) *TokenRegistry {
	r := &TokenRegistry{
		bySymbol: make(map[string]Token, len(tokens)),
		byKey:    make(map[string]string, len(tokens)*2),
	}
	for _, t := range tokens {
		t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
		r.bySymbol[t.Symbol] = t
		r.byKey[strings.ToLower(t.Symbol)] = t.Symbol
		for _, a := range aliases[t.Symbol] {
			r.byKey[strings.ToLower(strings.TrimSpace(a))] = t.Symbol
		}
	}
	return r
}

// Lookup resolves a symbol or alias, case-insensitively.
func (r *TokenRegistry) Lookup(name string) (Token, bool) {
	sym, ok := r.byKey[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Token{}, false
	}
	return r.bySymbol[sym], true
}

// ByAddress finds a token by contract address.
func (r *TokenRegistry) ByAddress(addr string) (Token, bool) {
	for _, t := range r.bySymbol {
		if t.Address != "" && strings.EqualFold(t.Address, addr) {
			return t, true
		}
	}
	return Token{}, false
}

// Symbols returns every canonical symbol in sorted order.
func (r *TokenRegistry) Symbols() []string {
	out := make([]string, 0, len(r.bySymbol))
	for s := range r.bySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Tokens returns every token sorted by symbol.
func (r *TokenRegistry) Tokens() []Token {
	syms := r.Symbols()
	out := make([]Token, 0, len(syms))
	for _, s := range syms {
		out = append(out, r.bySymbol[s])
	}
	return out
}
