package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/observability"
)

// SnapshotProvider returns a snapshot no older than the staleness window,
// refreshing it on demand.
type SnapshotProvider interface {
	Fresh(ctx context.Context, wallet string) (domain.PortfolioSnapshot, error)
}

// DirectRequest is a structured trade request that skips the LLM.
type DirectRequest struct {
	Action         string          `json:"action"`
	TokenIn        string          `json:"token_in"`
	TokenOut       string          `json:"token_out"`
	Amount         decimal.Decimal `json:"amount"`
	AmountKind     string          `json:"amount_kind"`
	MaxSlippageBps *int            `json:"max_slippage_bps,omitempty"`
}

// ResolverConfig tunes the resolver.
type ResolverConfig struct {
	MinConfidence float64
	LLMTimeout    time.Duration
}

// ResolverService converts prompts and direct requests into TradeIntents.
// Apart from an optional snapshot refresh it has no side effects.
type ResolverService struct {
	parser    domain.IntentParser
	tokens    *domain.TokenRegistry
	portfolio SnapshotProvider
	cfg       ResolverConfig
	now       func() time.Time
	logger    *slog.Logger
}

// NewResolverService creates a ResolverService. parser may be nil, in which
// case prompt resolution reports the upstream as unavailable.
func NewResolverService(
	parser domain.IntentParser,
	tokens *domain.TokenRegistry,
	portfolio SnapshotProvider,
	cfg ResolverConfig,
	logger *slog.Logger,
) *ResolverService {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.5
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 20 * time.Second
	}
	return &ResolverService{
		parser:    parser,
		tokens:    tokens,
		portfolio: portfolio,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "resolver_service")),
	}
}

// ResolvePrompt asks the LLM for a draft and resolves it.
func (s *ResolverService) ResolvePrompt(ctx context.Context, wallet, text string) (domain.TradeIntent, error) {
	intent, err := s.resolvePrompt(ctx, wallet, text)
	return s.observe(ctx, domain.OriginUserPrompt, intent, err)
}

// ResolveDirect resolves a structured request. Confidence is always 1.
func (s *ResolverService) ResolveDirect(ctx context.Context, wallet string, req DirectRequest) (domain.TradeIntent, error) {
	intent, err := s.build(ctx, wallet, draft{
		action:     req.Action,
		tokenIn:    req.TokenIn,
		tokenOut:   req.TokenOut,
		amount:     req.Amount,
		amountKind: req.AmountKind,
		slippage:   req.MaxSlippageBps,
		confidence: 1,
		origin:     domain.OriginDirect,
	})
	return s.observe(ctx, domain.OriginDirect, intent, err)
}

// ResolveStrategy canonicalises a strategy-produced intent. Strategies emit
// absolute amounts, so no snapshot lookup happens here.
func (s *ResolverService) ResolveStrategy(ctx context.Context, in domain.TradeIntent) (domain.TradeIntent, error) {
	intent, err := s.build(ctx, in.Wallet, draft{
		action:     string(in.Action),
		tokenIn:    in.TokenIn,
		tokenOut:   in.TokenOut,
		amount:     in.Amount,
		amountKind: string(in.AmountKind),
		slippage:   in.MaxSlippageBps,
		confidence: in.Confidence,
		origin:     in.Origin,
		reasoning:  in.Reasoning,
	})
	return s.observe(ctx, in.Origin, intent, err)
}

func (s *ResolverService) resolvePrompt(ctx context.Context, wallet, text string) (domain.TradeIntent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.TradeIntent{}, domain.NewResolutionError(domain.ResolutionInvalid, "empty prompt", nil)
	}
	if s.parser == nil {
		return domain.TradeIntent{}, domain.NewResolutionError(domain.ResolutionUpstreamUnavailable, "no intent parser configured", nil)
	}

	llmCtx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()
	d, err := s.parser.Parse(llmCtx, text)
	if err != nil {
		return domain.TradeIntent{}, domain.NewResolutionError(domain.ResolutionUpstreamUnavailable, "intent parser", err)
	}

	if d.Confidence < s.cfg.MinConfidence {
		return domain.TradeIntent{}, domain.NewResolutionError(domain.ResolutionLowConfidence,
			fmt.Sprintf("confidence %.2f below %.2f", d.Confidence, s.cfg.MinConfidence), nil)
	}
	if strings.EqualFold(strings.TrimSpace(d.Action), "hold") {
		return domain.TradeIntent{}, domain.NewResolutionError(domain.ResolutionLowConfidence, "parser suggested no trade", nil)
	}

	return s.build(ctx, wallet, draft{
		action:     d.Action,
		tokenIn:    d.TokenIn,
		tokenOut:   d.TokenOut,
		amount:     d.Amount,
		amountKind: d.AmountKind,
		confidence: d.Confidence,
		origin:     domain.OriginUserPrompt,
		reasoning:  d.Reasoning,
	})
}

type draft struct {
	action     string
	tokenIn    string
	tokenOut   string
	amount     decimal.Decimal
	amountKind string
	slippage   *int
	confidence float64
	origin     string
	reasoning  string
}

func (s *ResolverService) build(ctx context.Context, wallet string, d draft) (domain.TradeIntent, error) {
	if wallet == "" {
		return domain.TradeIntent{}, domain.NewResolutionError(domain.ResolutionInvalid, "wallet is required", nil)
	}
	action, ok := domain.ParseAction(d.action)
	if !ok {
		return domain.TradeIntent{}, domain.NewResolutionError(domain.ResolutionInvalid,
			fmt.Sprintf("unsupported action %q", d.action), nil)
	}
	if isAllOfPosition(d.amountKind) {
		d.amountKind = string(domain.AmountPercentage)
		d.amount = decimal.NewFromInt(100)
	}
	kind, ok := parseAmountKind(d.amountKind)
	if !ok {
		return domain.TradeIntent{}, domain.NewResolutionError(domain.ResolutionInvalid,
			fmt.Sprintf("unsupported amount kind %q", d.amountKind), nil)
	}

	tokenIn, ok := s.tokens.Lookup(d.tokenIn)
	if !ok {
		return domain.TradeIntent{}, domain.NewResolutionError(domain.ResolutionUnknownToken, d.tokenIn, nil)
	}
	tokenOut, ok := s.tokens.Lookup(d.tokenOut)
	if !ok {
		return domain.TradeIntent{}, domain.NewResolutionError(domain.ResolutionUnknownToken, d.tokenOut, nil)
	}

	intent := domain.TradeIntent{
		Action:         action,
		Wallet:         wallet,
		TokenIn:        tokenIn.Symbol,
		TokenOut:       tokenOut.Symbol,
		Amount:         d.amount,
		AmountKind:     kind,
		MaxSlippageBps: d.slippage,
		Confidence:     d.confidence,
		Origin:         d.origin,
		Reasoning:      d.reasoning,
		CreatedAt:      s.now().UTC(),
	}
	if err := intent.Validate(); err != nil {
		return domain.TradeIntent{}, domain.NewResolutionError(domain.ResolutionInvalid, err.Error(), nil)
	}
	intent.Requested = &domain.RequestTerms{
		Amount:         intent.Amount,
		AmountKind:     intent.AmountKind,
		MaxSlippageBps: intent.MaxSlippageBps,
	}

	if intent.AmountKind == domain.AmountPercentage {
		abs, err := s.percentOfPosition(ctx, wallet, tokenIn, intent.Amount)
		if err != nil {
			return domain.TradeIntent{}, err
		}
		intent = intent.WithAmount(abs)
	}
	return intent, nil
}

// percentOfPosition converts pct of the wallet's token balance into an
// absolute amount, truncated to the token's decimals.
func (s *ResolverService) percentOfPosition(ctx context.Context, wallet string, tok domain.Token, pct decimal.Decimal) (decimal.Decimal, error) {
	if s.portfolio == nil {
		return decimal.Zero, domain.NewResolutionError(domain.ResolutionNoPosition, "no portfolio source configured", nil)
	}
	snap, err := s.portfolio.Fresh(ctx, wallet)
	if err != nil {
		return decimal.Zero, domain.NewResolutionError(domain.ResolutionNoPosition, "portfolio snapshot unavailable", err)
	}
	bal := snap.Balance(tok.Symbol)
	if !bal.IsPositive() {
		return decimal.Zero, domain.NewResolutionError(domain.ResolutionNoPosition,
			fmt.Sprintf("no %s balance", tok.Symbol), nil)
	}
	amount := bal.Mul(pct).Div(decimal.NewFromInt(100)).Truncate(int32(tok.Decimals))
	if !amount.IsPositive() {
		return decimal.Zero, domain.NewResolutionError(domain.ResolutionNoPosition,
			fmt.Sprintf("%s%% of %s %s rounds to zero", pct, bal, tok.Symbol), nil)
	}
	return amount, nil
}

// isAllOfPosition reports the "all" amount kind, which means 100% of the
// position whatever amount accompanies it.
func isAllOfPosition(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all":
		return true
	}
	return false
}

func parseAmountKind(s string) (domain.AmountKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "absolute", "exact":
		return domain.AmountAbsolute, true
	case "percentage", "percent", "percentage_of_position", "percentage-of-position":
		return domain.AmountPercentage, true
	}
	return "", false
}

func (s *ResolverService) observe(ctx context.Context, origin string, intent domain.TradeIntent, err error) (domain.TradeIntent, error) {
	if err != nil {
		if re, ok := domain.AsResolutionError(err); ok {
			observability.RecordResolutionError(string(re.Kind))
		}
		s.logger.InfoContext(ctx, "resolution failed",
			slog.String("origin", origin),
			slog.String("error", err.Error()),
		)
		return domain.TradeIntent{}, err
	}
	observability.RecordResolved(origin)
	return intent, nil
}
