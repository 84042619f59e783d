// Package sizing implements the Symbol & Sizing Resolver (§4.3): converting
// a strategy's logical symbol to a concrete front-month contract, and its
// logical quantity to a concrete quantity based on account balance and risk.
package sizing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/contracts"
)

// ContractFamily is the sizing method's family selector.
type ContractFamily string

const (
	FamilyAuto  ContractFamily = "auto"
	FamilyMicro ContractFamily = "micro"
	FamilyFull  ContractFamily = "full"
)

// Method selects fixed vs risk-based sizing.
type Method string

const (
	MethodFixed     Method = "fixed"
	MethodRiskBased Method = "risk_based"
)

// ErrInsufficientInputs is returned when risk-based sizing lacks entry/stop prices.
type ErrInsufficientInputs struct{ Reason string }

func (e *ErrInsufficientInputs) Error() string {
	return "sizing: insufficient inputs: " + e.Reason
}

// Request is the input to Resolve.
type Request struct {
	LogicalSymbol  string
	Method         Method
	Family         ContractFamily // used only for MethodFixed
	RequestedQty   int64          // used only for MethodFixed
	EntryPrice     float64        // used only for MethodRiskBased
	StopPrice      float64        // used only for MethodRiskBased
	RiskPct        float64        // used only for MethodRiskBased; falls back to config default
}

// Result is the outcome of a sizing resolution.
type Result struct {
	ConcreteSymbol string
	Quantity       int64
	Reason         string
	Converted      bool // true if the sizing method switched between full and micro
}

// Config controls the Resolver's HTTP backends and risk defaults.
type Config struct {
	AccountBalanceURL  string
	FrontMonthURL      string
	Timeout            time.Duration
	MaxRetries         int
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
	DefaultRiskPct     float64
	MaxContracts       int64
}

// Resolver implements the Symbol & Sizing Resolver.
type Resolver struct {
	cfg    Config
	table  *contracts.Table
	logger *zap.Logger

	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]

	cachedBalance     float64
	cachedFrontMonths map[string]string
}

// NewResolver builds a Resolver. The underlying HTTP client retries
// transient failures (hashicorp/go-retryablehttp) before those failures are
// counted by the circuit breaker (sony/gobreaker), and every call is bounded
// by cfg.Timeout via context, independent of the retry/breaker layering
// (§5's "HTTP calls ... use a 5s timeout").
func NewResolver(logger *zap.Logger, table *contracts.Table, cfg Config) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxContracts <= 0 {
		cfg.MaxContracts = 10
	}
	if cfg.DefaultRiskPct <= 0 {
		cfg.DefaultRiskPct = 0.01
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.Logger = nil
	stdClient := retryClient.StandardClient()

	breakerSettings := gobreaker.Settings{
		Name:        "sizing-resolver",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxUint32(cfg.BreakerMaxFailures, 5)
		},
	}

	return &Resolver{
		cfg:               cfg,
		table:             table,
		logger:            logger.Named("sizing"),
		client:            stdClient,
		breaker:           gobreaker.NewCircuitBreaker[[]byte](breakerSettings),
		cachedFrontMonths: make(map[string]string),
	}
}

func maxUint32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// Resolve performs the full symbol + sizing conversion described in §4.3.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Result, error) {
	fam, err := contracts.ParseLogicalSymbol(req.LogicalSymbol)
	if err != nil {
		return Result{}, err
	}
	spec, _ := r.table.SpecForFamily(fam)

	concrete, err := r.resolveFrontMonth(ctx, spec.Underlying)
	if err != nil {
		// Front-month lookup is best-effort cached; if we have nothing
		// cached and the lookup failed, surface it as UnknownSymbol per §7
		// ("defaults are never silently substituted").
		return Result{}, &contracts.ErrUnknownSymbol{Symbol: req.LogicalSymbol}
	}

	switch req.Method {
	case MethodRiskBased:
		return r.resolveRiskBased(ctx, spec, concrete, req)
	default:
		return r.resolveFixed(spec, concrete, req)
	}
}

func (r *Resolver) resolveFixed(spec contracts.Spec, concrete string, req Request) (Result, error) {
	qty := req.RequestedQty
	if qty <= 0 {
		qty = 1
	}

	family := req.Family
	if family == "" {
		family = FamilyAuto
	}

	converted := false
	switch family {
	case FamilyMicro:
		if !spec.IsMicro {
			concrete = downconvertSymbol(concrete)
			converted = true
		}
	case FamilyFull:
		if spec.IsMicro {
			concrete = upconvertSymbol(concrete)
			converted = true
		}
	case FamilyAuto:
		// preserve original family, no conversion
	}

	return Result{
		ConcreteSymbol: concrete,
		Quantity:       qty,
		Reason:         "fixed sizing",
		Converted:      converted,
	}, nil
}

func (r *Resolver) resolveRiskBased(ctx context.Context, spec contracts.Spec, concrete string, req Request) (Result, error) {
	if req.EntryPrice == 0 || req.StopPrice == 0 {
		return Result{}, &ErrInsufficientInputs{Reason: "risk-based sizing requires entryPrice and stopPrice"}
	}

	balance, err := r.accountBalance(ctx)
	if err != nil {
		return Result{}, err
	}

	riskPct := req.RiskPct
	if riskPct <= 0 {
		riskPct = r.cfg.DefaultRiskPct
	}
	riskBudget := balance * riskPct
	stopDistance := math.Abs(req.EntryPrice - req.StopPrice)

	fullSpec, hasFull := r.table.SpecForFamily(fullFamilyOf(spec))
	if !hasFull {
		fullSpec = spec
	}
	riskPerContractFull := stopDistance * fullSpec.PointValue

	if riskPerContractFull <= riskBudget {
		qty := clamp(int64(riskBudget/riskPerContractFull), 1, r.cfg.MaxContracts)
		return Result{ConcreteSymbol: concrete, Quantity: qty, Reason: "risk-based, full contract"}, nil
	}

	microFam, hasMicro := r.table.MicroOf(fullFamilyOf(spec))
	if !hasMicro {
		// No micro contract exists for this family; fall back to the
		// minimum of 1 full contract.
		return Result{ConcreteSymbol: concrete, Quantity: 1, Reason: "risk-based, full contract (no micro available)"}, nil
	}
	microSpec, _ := r.table.SpecForFamily(microFam)
	riskPerContractMicro := stopDistance * microSpec.PointValue
	qty := clamp(int64(riskBudget/riskPerContractMicro), 1, r.cfg.MaxContracts)

	return Result{
		ConcreteSymbol: downconvertSymbol(concrete),
		Quantity:       qty,
		Reason:         "risk-based, downconverted to micro",
		Converted:      true,
	}, nil
}

func fullFamilyOf(spec contracts.Spec) contracts.Family {
	if !spec.IsMicro {
		return spec.Family
	}
	switch spec.Underlying {
	case "NQ":
		return contracts.FamilyNQ
	case "ES":
		return contracts.FamilyES
	case "RTY":
		return contracts.FamilyRTY
	default:
		return spec.Family
	}
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// downconvertSymbol/upconvertSymbol are placeholder symbol-family swaps
// (NQH6 <-> MNQH6); real contract-code mapping lives behind the broker
// symbol service, an external collaborator per §1.
func downconvertSymbol(concrete string) string {
	return "M" + concrete
}

func upconvertSymbol(concrete string) string {
	if len(concrete) > 0 && concrete[0] == 'M' {
		return concrete[1:]
	}
	return concrete
}

// resolveFrontMonth calls the broker symbol resolver through the retry +
// circuit-breaker stack, falling back to the last cached value on failure
// (§5, §7: "Sizing backend unreachable ... fall back to cached last-known
// values; never block signal processing indefinitely").
func (r *Resolver) resolveFrontMonth(ctx context.Context, underlying string) (string, error) {
	if cached, ok := r.table.FrontMonth(underlying); ok {
		r.cachedFrontMonths[underlying] = cached
	}

	if r.cfg.FrontMonthURL == "" {
		if cached, ok := r.cachedFrontMonths[underlying]; ok {
			return cached, nil
		}
		return underlying, nil // no symbol service configured; pass through
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	body, err := r.breaker.Execute(func() ([]byte, error) {
		url := fmt.Sprintf("%s?underlying=%s", r.cfg.FrontMonthURL, underlying)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("front-month lookup: status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})

	if err != nil {
		r.logger.Warn("front-month lookup failed, falling back to cache",
			zap.String("underlying", underlying), zap.Error(err))
		if cached, ok := r.cachedFrontMonths[underlying]; ok {
			return cached, nil
		}
		return "", err
	}

	var resolved struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(body, &resolved); err != nil {
		if cached, ok := r.cachedFrontMonths[underlying]; ok {
			return cached, nil
		}
		return "", err
	}

	r.table.SetFrontMonth(underlying, resolved.Symbol)
	r.cachedFrontMonths[underlying] = resolved.Symbol
	return resolved.Symbol, nil
}

// accountBalance calls the sizing source for the current account balance,
// through the same retry + circuit-breaker stack, falling back to the last
// cached balance on failure.
func (r *Resolver) accountBalance(ctx context.Context) (float64, error) {
	if r.cfg.AccountBalanceURL == "" {
		if r.cachedBalance > 0 {
			return r.cachedBalance, nil
		}
		return 0, fmt.Errorf("sizing: no account balance source configured and no cached value")
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	body, err := r.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.AccountBalanceURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("account balance lookup: status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})

	if err != nil {
		r.logger.Warn("account balance lookup failed, falling back to cache", zap.Error(err))
		if r.cachedBalance > 0 {
			return r.cachedBalance, nil
		}
		return 0, err
	}

	var resolved struct {
		Balance float64 `json:"balance"`
	}
	if err := json.Unmarshal(body, &resolved); err != nil {
		if r.cachedBalance > 0 {
			return r.cachedBalance, nil
		}
		return 0, err
	}

	r.cachedBalance = resolved.Balance
	return resolved.Balance, nil
}
