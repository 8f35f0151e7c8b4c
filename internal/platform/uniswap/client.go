// Package uniswap implements the swap venue and the wallet balance source on
// a Uniswap V2 style router over go-ethereum's RPC client.
package uniswap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// Backend is the subset of *ethclient.Client the venue uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// TxSigner signs transactions for the trading wallet.
type TxSigner interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

// Config holds the router deployment parameters.
type Config struct {
	ChainID       int64
	Router        string
	WrappedNative string
	GasLimit      uint64
	Deadline      time.Duration
}

// submission remembers what a sent transaction should deliver, so Status
// can read the received amount from the receipt's Transfer logs.
type submission struct {
	recipient common.Address
	tokenOut  domain.Token
}

// Client is a domain.Venue and domain.BalanceSource.
type Client struct {
	backend Backend
	signer  TxSigner
	tokens  *domain.TokenRegistry
	chainID *big.Int
	router  common.Address
	weth    common.Address
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger

	mu       sync.Mutex
	sent     map[common.Hash]submission
	approved map[common.Address]*big.Int // token -> amount of the last approval sent
}

// approveGasLimit covers an ERC20 approve on common token contracts.
const approveGasLimit = 100_000

var (
	_ domain.Venue         = (*Client)(nil)
	_ domain.BalanceSource = (*Client)(nil)
)

// New creates a Client. signer may be nil when every order is simulated;
// Submit then fails.
func New(backend Backend, signer TxSigner, tokens *domain.TokenRegistry, cfg Config, logger *slog.Logger) *Client {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 20 * time.Minute
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 250_000
	}
	return &Client{
		backend:  backend,
		signer:   signer,
		tokens:   tokens,
		chainID:  big.NewInt(cfg.ChainID),
		router:   common.HexToAddress(cfg.Router),
		weth:     common.HexToAddress(cfg.WrappedNative),
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "uniswap")),
		sent:     make(map[common.Hash]submission),
		approved: make(map[common.Address]*big.Int),
	}
}

// Quote asks the router how much tokenOut amountIn of tokenIn buys.
func (c *Client) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (domain.Quote, error) {
	in, out, err := c.pair(tokenIn, tokenOut)
	if err != nil {
		return domain.Quote{}, err
	}
	amounts, err := c.amountsOut(ctx, toBaseUnits(amountIn, in.Decimals), c.path(in, out))
	if err != nil {
		return domain.Quote{}, fmt.Errorf("uniswap: quote %s->%s: %w", in.Symbol, out.Symbol, err)
	}
	return domain.Quote{
		AmountOut:   fromBaseUnits(amounts[len(amounts)-1], out.Decimals),
		GasEstimate: c.cfg.GasLimit,
	}, nil
}

// GasPrice returns the node's suggested gas price in gwei.
func (c *Client) GasPrice(ctx context.Context) (decimal.Decimal, error) {
	wei, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("uniswap: suggest gas price: %w", classify(err))
	}
	return weiToGwei(wei), nil
}

// Submit signs and broadcasts the swap and returns the transaction hash.
// When the router's allowance for an ERC20 input is short, an approve for
// the swap amount is broadcast first with the preceding nonce.
// req.BeforeBroadcast, when set, receives the swap hash before it is sent.
func (c *Client) Submit(ctx context.Context, req domain.SwapRequest) (string, error) {
	if c.signer == nil {
		return "", fmt.Errorf("uniswap: submit: no signing key configured")
	}
	from := c.signer.Address()
	if !common.IsHexAddress(req.Wallet) || common.HexToAddress(req.Wallet) != from {
		return "", fmt.Errorf("uniswap: submit: wallet %s is not the signing wallet", req.Wallet)
	}
	in, out, err := c.pair(req.TokenIn, req.TokenOut)
	if err != nil {
		return "", err
	}

	amountIn := toBaseUnits(req.AmountIn, in.Decimals)
	minOut := toBaseUnits(req.MinAmountOut, out.Decimals)
	path := c.path(in, out)
	deadline := big.NewInt(c.now().Add(c.cfg.Deadline).Unix())

	value := new(big.Int)
	var data []byte
	switch {
	case in.Native():
		value = amountIn
		data, err = parsedRouter.Pack("swapExactETHForTokens", minOut, path, from, deadline)
	case out.Native():
		data, err = parsedRouter.Pack("swapExactTokensForETH", amountIn, minOut, path, from, deadline)
	default:
		data, err = parsedRouter.Pack("swapExactTokensForTokens", amountIn, minOut, path, from, deadline)
	}
	if err != nil {
		return "", fmt.Errorf("uniswap: pack swap: %w", err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("uniswap: pending nonce: %w", classify(err))
	}
	if !in.Native() {
		approving, err := c.ensureAllowance(ctx, from, in, amountIn, nonce, gweiToWei(req.GasPriceGwei))
		if err != nil {
			return "", err
		}
		if approving {
			nonce++
		}
	}
	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit = c.cfg.GasLimit
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gweiToWei(req.GasPriceGwei),
		Gas:      gasLimit,
		To:       &c.router,
		Value:    value,
		Data:     data,
	})
	signed, err := c.signer.SignTx(c.chainID, tx)
	if err != nil {
		return "", fmt.Errorf("uniswap: %w", err)
	}
	if req.BeforeBroadcast != nil {
		if err := req.BeforeBroadcast(signed.Hash().Hex()); err != nil {
			return "", fmt.Errorf("uniswap: record tx %s: %w", signed.Hash().Hex(), err)
		}
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("uniswap: send transaction: %w", classify(err))
	}

	c.mu.Lock()
	c.sent[signed.Hash()] = submission{recipient: from, tokenOut: out}
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "swap broadcast",
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
		slog.String("gas_gwei", req.GasPriceGwei.String()),
	)
	return signed.Hash().Hex(), nil
}

// Status reads the receipt of txRef. A missing receipt is pending.
func (c *Client) Status(ctx context.Context, txRef string) (domain.TxStatus, error) {
	hash := common.HexToHash(txRef)
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return domain.TxStatus{State: domain.TxPending}, nil
		}
		return domain.TxStatus{}, fmt.Errorf("uniswap: receipt %s: %w", txRef, classify(err))
	}

	status := domain.TxStatus{State: domain.TxFailed}
	if receipt.BlockNumber != nil {
		status.Block = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		c.forget(hash)
		return status, nil
	}
	status.State = domain.TxConfirmed

	c.mu.Lock()
	sub, ok := c.sent[hash]
	c.mu.Unlock()
	if ok && !sub.tokenOut.Native() {
		status.AmountOut = receivedAmount(receipt, sub)
	}
	c.forget(hash)
	return status, nil
}

// Balances returns the wallet's balance of every configured token.
func (c *Client) Balances(ctx context.Context, wallet string) (map[string]decimal.Decimal, error) {
	if !common.IsHexAddress(wallet) {
		return nil, fmt.Errorf("uniswap: balances: invalid wallet %q", wallet)
	}
	owner := common.HexToAddress(wallet)
	out := make(map[string]decimal.Decimal)
	for _, t := range c.tokens.Tokens() {
		var raw *big.Int
		var err error
		if t.Native() {
			raw, err = c.backend.BalanceAt(ctx, owner, nil)
		} else {
			raw, err = c.erc20Balance(ctx, common.HexToAddress(t.Address), owner)
		}
		if err != nil {
			return nil, fmt.Errorf("uniswap: balance %s: %w", t.Symbol, err)
		}
		out[t.Symbol] = fromBaseUnits(raw, t.Decimals)
	}
	return out, nil
}

// ensureAllowance broadcasts approve(router, amount) with nonce when the
// router may not spend amount of token. It reports whether a transaction
// was sent. An approval already broadcast for at least amount is not
// repeated while it waits to be mined.
func (c *Client) ensureAllowance(ctx context.Context, owner common.Address, token domain.Token, amount *big.Int, nonce uint64, gasPrice *big.Int) (bool, error) {
	addr := common.HexToAddress(token.Address)
	current, err := c.allowance(ctx, addr, owner)
	if err != nil {
		return false, fmt.Errorf("uniswap: allowance %s: %w", token.Symbol, classify(err))
	}

	c.mu.Lock()
	pending := c.approved[addr]
	if current.Cmp(amount) >= 0 {
		delete(c.approved, addr)
	}
	c.mu.Unlock()
	if current.Cmp(amount) >= 0 || (pending != nil && pending.Cmp(amount) >= 0) {
		return false, nil
	}

	data, err := parsedERC20.Pack("approve", c.router, amount)
	if err != nil {
		return false, fmt.Errorf("uniswap: pack approve: %w", err)
	}
	signed, err := c.signer.SignTx(c.chainID, types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      approveGasLimit,
		To:       &addr,
		Value:    new(big.Int),
		Data:     data,
	}))
	if err != nil {
		return false, fmt.Errorf("uniswap: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return false, fmt.Errorf("uniswap: send approve %s: %w", token.Symbol, classify(err))
	}

	c.mu.Lock()
	c.approved[addr] = new(big.Int).Set(amount)
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "router approval broadcast",
		slog.String("token", token.Symbol),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
	)
	return true, nil
}

func (c *Client) allowance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := parsedERC20.Pack("allowance", owner, c.router)
	if err != nil {
		return nil, err
	}
	res, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: owner, To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := parsedERC20.Unpack("allowance", res)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

func (c *Client) erc20Balance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := parsedERC20.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	res, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := parsedERC20.Unpack("balanceOf", res)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

func (c *Client) amountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	data, err := parsedRouter.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	res, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.router, Data: data}, nil)
	if err != nil {
		return nil, classify(err)
	}
	vals, err := parsedRouter.Unpack("getAmountsOut", res)
	if err != nil {
		return nil, err
	}
	amounts, ok := vals[0].([]*big.Int)
	if !ok || len(amounts) != len(path) {
		return nil, fmt.Errorf("unexpected getAmountsOut result")
	}
	return amounts, nil
}

func (c *Client) pair(tokenIn, tokenOut string) (domain.Token, domain.Token, error) {
	in, ok := c.tokens.Lookup(tokenIn)
	if !ok {
		return domain.Token{}, domain.Token{}, fmt.Errorf("uniswap: unknown token %q", tokenIn)
	}
	out, ok := c.tokens.Lookup(tokenOut)
	if !ok {
		return domain.Token{}, domain.Token{}, fmt.Errorf("uniswap: unknown token %q", tokenOut)
	}
	return in, out, nil
}

// path routes through the wrapped native token unless one side already is
// the native coin or its wrapper.
func (c *Client) path(in, out domain.Token) []common.Address {
	a, b := c.address(in), c.address(out)
	if a == c.weth || b == c.weth {
		return []common.Address{a, b}
	}
	return []common.Address{a, c.weth, b}
}

func (c *Client) address(t domain.Token) common.Address {
	if t.Native() {
		return c.weth
	}
	return common.HexToAddress(t.Address)
}

func (c *Client) forget(hash common.Hash) {
	c.mu.Lock()
	delete(c.sent, hash)
	c.mu.Unlock()
}

// receivedAmount sums the tokenOut Transfer logs paid to the recipient.
func receivedAmount(receipt *types.Receipt, sub submission) decimal.Decimal {
	token := common.HexToAddress(sub.tokenOut.Address)
	to := addressTopic(sub.recipient)
	total := new(big.Int)
	for _, l := range receipt.Logs {
		if l.Address != token || len(l.Topics) != 3 || l.Topics[0] != transferTopic || l.Topics[2] != to {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(l.Data))
	}
	return fromBaseUnits(total, sub.tokenOut.Decimals)
}

// transientMessages are node responses that succeed on a later attempt,
// usually with a higher gas price.
var transientMessages = []string{
	"nonce too low",
	"replacement transaction underpriced",
	"transaction underpriced",
	"already known",
	"txpool is full",
	"429",
	"too many requests",
	"connection reset",
}

// classify wraps retryable RPC failures with domain.ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
	}
	return err
}
