package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dmarkhas/solsentry/internal/cooldown"
	"github.com/dmarkhas/solsentry/internal/domain"
	"github.com/dmarkhas/solsentry/internal/ledger"
)

type memStore struct {
	data []byte
}

func (s *memStore) Load(v any) error {
	if len(s.data) == 0 {
		return nil
	}
	return json.Unmarshal(s.data, v)
}

func (s *memStore) Save(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.data = b
	return nil
}

// fakeSwap records quote requests and returns canned responses.
type fakeSwap struct {
	quoteErr error
	buildErr error

	lastMint     string
	lastQuantity float64
	lastSlippage int

	started chan struct{} // closed when SellQuote is entered, if set
	release chan struct{} // SellQuote blocks on this, if set
}

func (f *fakeSwap) SellQuote(ctx context.Context, mint string, quantity float64, slippageBps int) (domain.SwapQuote, error) {
	f.lastMint = mint
	f.lastQuantity = quantity
	f.lastSlippage = slippageBps
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.release != nil {
		<-f.release
	}
	if f.quoteErr != nil {
		return domain.SwapQuote{}, f.quoteErr
	}
	return domain.SwapQuote{InputMint: mint, SlippageBps: slippageBps}, nil
}

func (f *fakeSwap) SellTransaction(ctx context.Context, quote domain.SwapQuote, owner string) (domain.UnsignedTx, error) {
	if f.buildErr != nil {
		return domain.UnsignedTx{}, f.buildErr
	}
	return domain.UnsignedTx{Base64: "dHg="}, nil
}

type fakeSubmitter struct {
	err   error
	calls int
}

func (f *fakeSubmitter) Submit(ctx context.Context, tx domain.UnsignedTx) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("sig-%d", f.calls), nil
}

type recordSink struct {
	events []domain.Event
}

func (s *recordSink) Notify(ctx context.Context, evt domain.Event) {
	s.events = append(s.events, evt)
}

type fixture struct {
	exec     *SellExecutor
	ledger   *ledger.Ledger
	cooldown *cooldown.Register
	swap     *fakeSwap
	submit   *fakeSubmitter
	sink     *recordSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	l, err := ledger.New(&memStore{}, &memStore{}, nil, nil, ledger.Config{}, logger)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	cd, err := cooldown.New(&memStore{}, cooldown.Defaults(), logger)
	if err != nil {
		t.Fatalf("cooldown.New: %v", err)
	}
	swap := &fakeSwap{}
	submit := &fakeSubmitter{}
	sink := &recordSink{}
	exec := New(l, cd, swap, submit, sink, nil, "OwnerPubkey11111111111111111111111111111111", Defaults(), logger)
	return &fixture{exec: exec, ledger: l, cooldown: cd, swap: swap, submit: submit, sink: sink}
}

func (f *fixture) openTrade(t *testing.T, strategy domain.Strategy) domain.Trade {
	t.Helper()
	tr, err := f.ledger.Create(context.Background(), domain.TradeSpec{
		Strategy:          strategy,
		TokenMint:         "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		TokenSymbol:       "AAA",
		EntryPrice:        1.0,
		SizeSOL:           0.5,
		TokenQuantity:     1000,
		StopLossPercent:   20,
		TargetGainPercent: 75,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tr
}

func marketData(price float64) domain.MarketData {
	return domain.MarketData{
		TokenMint:    "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		PriceUSD:     price,
		LiquidityUSD: 1_000_000,
		RetrievedAt:  time.Now(),
	}
}

func TestSlippageBps(t *testing.T) {
	e := &SellExecutor{cfg: Defaults()}

	cases := []struct {
		name      string
		quantity  float64
		liquidity float64
		change5m  float64
		want      int
	}{
		{"deep pool, calm", 100, 1_000_000, 0, 100},
		{"trade over 1% of pool", 100, 4000, 0, 200},
		{"trade over 5% of pool", 100, 1500, 0, 400},
		{"fast mover", 100, 1_000_000, 6, 200},
		{"very fast mover", 100, 1_000_000, -12, 300},
		{"no liquidity data", 100, 0, 0, 400},
		{"worst case", 100, 0, 12, 600},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			md := domain.MarketData{PriceUSD: 1.0, LiquidityUSD: tc.liquidity, PriceChange5m: tc.change5m}
			if got := e.slippageBps(tc.quantity, md); got != tc.want {
				t.Errorf("slippageBps = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSlippageCappedAtMax(t *testing.T) {
	e := &SellExecutor{cfg: Config{BaseSlippageBps: 700, MaxSlippageBps: 800}}
	md := domain.MarketData{PriceUSD: 1.0, PriceChange5m: 12} // base 700 + 300 + 200
	if got := e.slippageBps(100, md); got != 800 {
		t.Errorf("slippageBps = %d, want capped 800", got)
	}
}

func TestFullStopLossClosesAndStartsCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.openTrade(t, domain.StrategyScalp)

	md := marketData(0.78)
	if err := f.exec.Sell(ctx, tr, md, 100, domain.ExitReasonStopLoss); err != nil {
		t.Fatalf("Sell: %v", err)
	}

	got, err := f.ledger.Get(tr.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.TradeStatusStopped {
		t.Errorf("status = %s, want stopped", got.Status)
	}
	if got.ExitTxRef != "sig-1" {
		t.Errorf("exit tx ref = %q, want sig-1", got.ExitTxRef)
	}
	if !f.cooldown.StopLossCooldownActive(tr.TokenMint) {
		t.Error("stop-loss should start the token cooldown")
	}
	if f.swap.lastQuantity != 1000 {
		t.Errorf("sold quantity = %v, want full 1000", f.swap.lastQuantity)
	}

	if len(f.sink.events) != 1 || f.sink.events[0].Type != domain.EventStopLoss {
		t.Errorf("events = %+v, want one stop_loss", f.sink.events)
	}
}

func TestPartialExitKeepsPositionActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.openTrade(t, domain.StrategyScalp)

	md := marketData(1.80)
	if err := f.exec.Sell(ctx, tr, md, 80, domain.ExitReasonScalpTarget); err != nil {
		t.Fatalf("Sell: %v", err)
	}

	got, err := f.ledger.Get(tr.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Active() {
		t.Errorf("status = %s, want active after partial", got.Status)
	}
	if got.TokenQuantity != 200 {
		t.Errorf("remaining quantity = %v, want 200", got.TokenQuantity)
	}
	if !got.PartialExitDone {
		t.Error("partial exit flag not set")
	}
	if f.cooldown.StopLossCooldownActive(tr.TokenMint) {
		t.Error("partial exit must not start a cooldown")
	}
	if len(f.sink.events) != 1 || f.sink.events[0].Type != domain.EventPartialExit {
		t.Errorf("events = %+v, want one partial_exit", f.sink.events)
	}
}

func TestQuoteFailureLeavesPositionUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.openTrade(t, domain.StrategyScalp)
	f.swap.quoteErr = domain.ErrNoRoute

	err := f.exec.Sell(ctx, tr, marketData(0.78), 100, domain.ExitReasonStopLoss)
	if !errors.Is(err, domain.ErrNoRoute) {
		t.Fatalf("err = %v, want ErrNoRoute", err)
	}

	got, _ := f.ledger.Get(tr.ID)
	if !got.Active() {
		t.Error("failed sell must leave the position active")
	}
	if got.TokenQuantity != 1000 {
		t.Errorf("quantity changed on failure: %v", got.TokenQuantity)
	}
	if f.submit.calls != 0 {
		t.Error("no transaction should be submitted after a failed quote")
	}
}

func TestSubmitFailureLeavesPositionUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.openTrade(t, domain.StrategyScalp)
	f.submit.err = domain.ErrSubmitFailed

	err := f.exec.Sell(ctx, tr, marketData(0.78), 100, domain.ExitReasonStopLoss)
	if !errors.Is(err, domain.ErrSubmitFailed) {
		t.Fatalf("err = %v, want ErrSubmitFailed", err)
	}
	got, _ := f.ledger.Get(tr.ID)
	if !got.Active() {
		t.Error("failed submit must leave the position active")
	}
	if f.cooldown.StopLossCooldownActive(tr.TokenMint) {
		t.Error("failed sell must not start a cooldown")
	}
}

func TestSellClosedTradeReturnsAlreadyClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.openTrade(t, domain.StrategyScalp)

	if _, err := f.ledger.Close(ctx, tr.ID, 1.2, "x", domain.ExitReasonTargetGain); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err := f.exec.Sell(ctx, tr, marketData(1.2), 100, domain.ExitReasonTargetGain)
	if !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Errorf("err = %v, want ErrAlreadyClosed", err)
	}
}

func TestConcurrentSellClaimsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.openTrade(t, domain.StrategyScalp)

	started := make(chan struct{})
	release := make(chan struct{})
	f.swap.started = started
	f.swap.release = release

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- f.exec.Sell(ctx, tr, marketData(0.78), 100, domain.ExitReasonStopLoss)
	}()
	<-started

	// The first sell holds the claim; a second caller must bounce.
	err := f.exec.Sell(ctx, tr, marketData(0.78), 100, domain.ExitReasonStopLoss)
	if !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Errorf("second sell err = %v, want ErrAlreadyClosed", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first sell: %v", err)
	}
	got, _ := f.ledger.Get(tr.ID)
	if got.Active() {
		t.Error("first sell should have closed the trade")
	}
}

func TestRedCloseInProfitSkipsCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.openTrade(t, domain.StrategyScalp)

	if err := f.exec.Sell(ctx, tr, marketData(1.4), 100, domain.ExitReasonGuardRed); err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if f.cooldown.StopLossCooldownActive(tr.TokenMint) {
		t.Error("profitable forced close must not start a cooldown")
	}
}

func TestRedCloseAtLossStartsCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.openTrade(t, domain.StrategyScalp)

	if err := f.exec.Sell(ctx, tr, marketData(0.9), 100, domain.ExitReasonGuardRed); err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if !f.cooldown.StopLossCooldownActive(tr.TokenMint) {
		t.Error("losing forced close should start the token cooldown")
	}
}
