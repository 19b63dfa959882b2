package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/dmarkhas/solsentry/internal/domain"
)

// memStore is an in-memory domain.DocStore for tests.
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

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestLedger(t *testing.T, cfg Config) (*Ledger, *memStore, *memStore) {
	t.Helper()
	trades := &memStore{}
	stats := &memStore{}
	l, err := New(trades, stats, nil, nil, cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, trades, stats
}

func testSpec() domain.TradeSpec {
	return domain.TradeSpec{
		Strategy:          domain.StrategyScalp,
		TokenMint:         "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		TokenSymbol:       "AAA",
		EntryPrice:        1.0,
		EntryMarketCap:    250_000,
		SizeSOL:           0.5,
		TokenQuantity:     1000,
		StopLossPercent:   20,
		TargetGainPercent: 75,
		EntryTxRef:        "entry-sig",
	}
}

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCreateSeedsTrade(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	ctx := context.Background()

	tr, err := l.Create(ctx, testSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tr.ID == "" {
		t.Error("expected assigned ID")
	}
	if tr.Status != domain.TradeStatusActive {
		t.Errorf("status = %s, want active", tr.Status)
	}
	if tr.HighestPrice != tr.EntryPrice {
		t.Errorf("highest price = %v, want entry price %v", tr.HighestPrice, tr.EntryPrice)
	}
	if tr.InitialQuantity != tr.TokenQuantity {
		t.Errorf("initial quantity = %v, want %v", tr.InitialQuantity, tr.TokenQuantity)
	}
	if got := l.Active(); len(got) != 1 {
		t.Errorf("active count = %d, want 1", len(got))
	}
}

func TestCreateRejectsInvalidSpec(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*domain.TradeSpec)
	}{
		{"empty mint", func(s *domain.TradeSpec) { s.TokenMint = "" }},
		{"zero entry price", func(s *domain.TradeSpec) { s.EntryPrice = 0 }},
		{"zero quantity", func(s *domain.TradeSpec) { s.TokenQuantity = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := testSpec()
			tc.mutate(&spec)
			if _, err := l.Create(ctx, spec); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCloseRealizesStopLoss(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	ctx := context.Background()

	tr, err := l.Create(ctx, testSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	closed, err := l.Close(ctx, tr.ID, 0.79, "exit-sig", domain.ExitReasonStopLoss)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.Status != domain.TradeStatusStopped {
		t.Errorf("status = %s, want stopped", closed.Status)
	}
	if !floatEquals(closed.PnLPercent, -21) {
		t.Errorf("pnl percent = %v, want -21", closed.PnLPercent)
	}
	// 0.5 SOL * -21% on the full quantity.
	if !floatEquals(closed.PnLSOL, -0.105) {
		t.Errorf("pnl sol = %v, want -0.105", closed.PnLSOL)
	}
	if closed.ExitPrice == nil || *closed.ExitPrice != 0.79 {
		t.Errorf("exit price = %v, want 0.79", closed.ExitPrice)
	}
	if closed.ClosedAt == nil {
		t.Error("closed trade missing ClosedAt")
	}
	if got := l.Active(); len(got) != 0 {
		t.Errorf("active count = %d, want 0", len(got))
	}
}

func TestCloseCompletedForGainReasons(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	ctx := context.Background()

	tr, err := l.Create(ctx, testSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	closed, err := l.Close(ctx, tr.ID, 1.8, "exit-sig", domain.ExitReasonTargetGain)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.Status != domain.TradeStatusCompleted {
		t.Errorf("status = %s, want completed", closed.Status)
	}
}

func TestCloseTwiceReturnsAlreadyClosed(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	ctx := context.Background()

	tr, err := l.Create(ctx, testSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := l.Close(ctx, tr.ID, 1.2, "a", domain.ExitReasonTargetGain); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	_, err = l.Close(ctx, tr.ID, 1.2, "b", domain.ExitReasonTargetGain)
	if !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Errorf("second Close err = %v, want ErrAlreadyClosed", err)
	}
}

func TestCloseUnknownReturnsNotFound(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	_, err := l.Close(context.Background(), "nope", 1.0, "x", domain.ExitReasonStopLoss)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateEnforcesHighestPriceRatchet(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	ctx := context.Background()

	tr, err := l.Create(ctx, testSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	up, err := l.Update(ctx, tr.ID, func(tr *domain.Trade) { tr.HighestPrice = 2.5 })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if up.HighestPrice != 2.5 {
		t.Fatalf("highest price = %v, want 2.5", up.HighestPrice)
	}

	up, err = l.Update(ctx, tr.ID, func(tr *domain.Trade) { tr.HighestPrice = 1.2 })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if up.HighestPrice != 2.5 {
		t.Errorf("ratchet lowered: highest price = %v, want 2.5", up.HighestPrice)
	}
}

func TestCloseAfterPartialRealizesResidualFraction(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	ctx := context.Background()

	tr, err := l.Create(ctx, testSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// 80% already sold; 200 of 1000 tokens remain.
	if _, err := l.Update(ctx, tr.ID, func(tr *domain.Trade) {
		tr.TokenQuantity = 200
		tr.PartialExitDone = true
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	closed, err := l.Close(ctx, tr.ID, 1.75, "exit-sig", domain.ExitReasonTargetGain)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !floatEquals(closed.PnLPercent, 75) {
		t.Errorf("pnl percent = %v, want 75", closed.PnLPercent)
	}
	// 0.5 SOL * 20% residual * +75%.
	if !floatEquals(closed.PnLSOL, 0.075) {
		t.Errorf("pnl sol = %v, want 0.075", closed.PnLSOL)
	}
}

func TestDailyRollover(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	ctx := context.Background()

	day1 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	l.SetClock(func() time.Time { return day1 })

	tr, err := l.Create(ctx, testSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := l.Close(ctx, tr.ID, 0.8, "x", domain.ExitReasonStopLoss); err != nil {
		t.Fatalf("Close: %v", err)
	}

	stats := l.Stats()
	if stats.DailyTrades != 1 || stats.TotalTrades != 1 {
		t.Fatalf("stats after close = %+v", stats)
	}
	if !floatEquals(stats.DailyPnLSOL, -0.1) {
		t.Errorf("daily pnl = %v, want -0.1", stats.DailyPnLSOL)
	}

	l.SetClock(func() time.Time { return day1.Add(24 * time.Hour) })
	stats = l.Stats()
	if stats.DailyTrades != 0 || stats.DailyPnLSOL != 0 {
		t.Errorf("daily counters not reset: %+v", stats)
	}
	if stats.TotalTrades != 1 || !floatEquals(stats.TotalPnLSOL, -0.1) {
		t.Errorf("total counters lost on rollover: %+v", stats)
	}
}

func TestDailyLossLimit(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{DailyLossLimitSOL: 0.1})
	ctx := context.Background()

	if l.DailyLossLimitBreached() {
		t.Fatal("fresh ledger should not be at the limit")
	}

	tr, err := l.Create(ctx, testSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// 0.5 SOL * -21% = -0.105 SOL realized, past the 0.1 limit.
	if _, err := l.Close(ctx, tr.ID, 0.79, "x", domain.ExitReasonStopLoss); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !l.DailyLossLimitBreached() {
		t.Error("expected limit breached")
	}
}

func TestDailyLossLimitDisabledByZero(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	ctx := context.Background()

	tr, err := l.Create(ctx, testSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := l.Close(ctx, tr.ID, 0.1, "x", domain.ExitReasonStopLoss); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if l.DailyLossLimitBreached() {
		t.Error("zero limit should never report breach")
	}
}

func TestHasActiveAndActiveForToken(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	ctx := context.Background()

	spec := testSpec()
	tr, err := l.Create(ctx, spec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !l.HasActive(spec.TokenMint, domain.StrategyScalp) {
		t.Error("expected active scalp trade for mint")
	}
	if l.HasActive(spec.TokenMint, domain.StrategyDip) {
		t.Error("dip strategy should not match")
	}
	if got := l.ActiveForToken(spec.TokenMint); len(got) != 1 {
		t.Errorf("ActiveForToken = %d trades, want 1", len(got))
	}

	if _, err := l.Close(ctx, tr.ID, 1.2, "x", domain.ExitReasonTargetGain); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if l.HasActive(spec.TokenMint, domain.StrategyScalp) {
		t.Error("closed trade still reported active")
	}
}

func TestReloadFromStores(t *testing.T) {
	trades := &memStore{}
	stats := &memStore{}
	ctx := context.Background()

	l, err := New(trades, stats, nil, nil, Config{}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	open, err := l.Create(ctx, testSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	spec2 := testSpec()
	spec2.TokenMint = "MintBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	spec2.TokenSymbol = "BBB"
	done, err := l.Create(ctx, spec2)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := l.Close(ctx, done.ID, 1.5, "x", domain.ExitReasonTargetGain); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reloaded, err := New(trades, stats, nil, nil, Config{}, discardLogger())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	active := reloaded.Active()
	if len(active) != 1 || active[0].ID != open.ID {
		t.Fatalf("reloaded active = %+v, want the open trade", active)
	}
	got, err := reloaded.Get(done.ID)
	if err != nil {
		t.Fatalf("Get closed: %v", err)
	}
	if got.Status != domain.TradeStatusCompleted {
		t.Errorf("reloaded closed trade status = %s", got.Status)
	}
	if st := reloaded.Stats(); st.TotalTrades != 1 {
		t.Errorf("reloaded stats = %+v, want 1 total trade", st)
	}
}

// recordSink captures emitted events for assertions.
type recordSink struct {
	events []domain.Event
}

func (s *recordSink) Notify(ctx context.Context, evt domain.Event) {
	s.events = append(s.events, evt)
}

func TestCreateEmitsPositionOpened(t *testing.T) {
	sink := &recordSink{}
	l, err := New(&memStore{}, &memStore{}, nil, sink, Config{}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	tr, err := l.Create(ctx, testSpec())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.events))
	}
	evt := sink.events[0]
	if evt.Type != domain.EventPositionOpened {
		t.Errorf("event type = %s, want position_opened", evt.Type)
	}
	if !strings.Contains(evt.Title, tr.TokenSymbol) {
		t.Errorf("event title %q does not name the token", evt.Title)
	}

	bad := testSpec()
	bad.TokenMint = ""
	if _, err := l.Create(ctx, bad); err == nil {
		t.Fatal("Create accepted an empty mint")
	}
	if len(sink.events) != 1 {
		t.Errorf("rejected create emitted an event, total = %d", len(sink.events))
	}
}
