package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haggleworks/dealgent/internal/convstate"
	"github.com/haggleworks/dealgent/internal/genai"
	"github.com/haggleworks/dealgent/internal/models"
	"github.com/haggleworks/dealgent/internal/rounds"
	"github.com/haggleworks/dealgent/internal/store"
)

func testListing() Listing {
	return Listing{
		ProductID: "bike-42",
		Title:     "vintage road bike",
		Category:  "bicycles",
		BasePrice: 2500,
		MinPrice:  2000,
		MaxRounds: 8,
	}
}

func newTestEngine(oracle genai.ClientInterface) *Engine {
	states := convstate.New(convstate.Config{})
	roundsMgr := rounds.NewManager(store.NewInMemoryStore())
	return New(oracle, states, roundsMgr, Config{})
}

func TestOrchestrateTurnCounter(t *testing.T) {
	mock := genai.NewMockClient("I appreciate the interest, but how about $2,200 for it?")
	e := newTestEngine(mock)
	if err := e.Start("neg-1", testListing()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	d, err := e.OrchestrateTurn(context.Background(), "neg-1", "Would you take $1900 for the bike?")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if d.Action != models.ActionCounter {
		t.Fatalf("expected counter, got %s (%s)", d.Action, d.Reasoning)
	}
	if d.Offer == nil || d.Offer.Amount != 2200 || d.Offer.Source != models.OfferSourceExtracted {
		t.Errorf("expected extracted 2200, got %+v", d.Offer)
	}
	if d.Meta.ScenarioID == "" {
		t.Error("decision should carry the scenario id")
	}

	summary, _ := e.GetSummary("neg-1")
	if !strings.Contains(summary, "round 1") {
		t.Errorf("summary should reflect round 1: %q", summary)
	}
	if !strings.Contains(summary, "buyer:") || !strings.Contains(summary, "agent:") {
		t.Errorf("summary should contain both sides of the turn: %q", summary)
	}
}

func TestOrchestrateTurnPromptContainsListing(t *testing.T) {
	mock := genai.NewMockClient("Let me think it over.")
	e := newTestEngine(mock)
	e.Start("neg-1", testListing())

	e.OrchestrateTurn(context.Background(), "neg-1", "Would you take $1900?")
	if mock.Calls() != 1 {
		t.Fatalf("expected 1 model call, got %d", mock.Calls())
	}
	if !strings.Contains(mock.SystemLog[0], "vintage road bike") {
		t.Errorf("system prompt missing product: %q", mock.SystemLog[0])
	}
	if strings.Contains(mock.SystemLog[0], "{") {
		t.Errorf("raw placeholder leaked into prompt: %q", mock.SystemLog[0])
	}
	if !strings.Contains(mock.UserLog[0], "Would you take $1900?") {
		t.Errorf("user prompt missing buyer text: %q", mock.UserLog[0])
	}
}

func TestOrchestrateTurnModelFailureFallsBack(t *testing.T) {
	mock := genai.NewMockClient("")
	mock.Err = errors.New("upstream 500")
	e := newTestEngine(mock)
	e.Start("neg-1", testListing())

	d, err := e.OrchestrateTurn(context.Background(), "neg-1", "Can you do $1900?")
	if err != nil {
		t.Fatalf("fallback turn should not error: %v", err)
	}
	if !d.IsFallback || d.Action != models.ActionContinue {
		t.Errorf("expected marked fallback continue, got %+v", d)
	}
	if d.Message == "" {
		t.Error("buyer must see a polite message, not an error")
	}

	// The turn still committed: decision existed before mutation.
	st, _ := e.GetAnalytics("neg-1")
	if st.UpdatedAt.IsZero() {
		t.Error("state should have been updated after fallback decision")
	}
}

func TestOrchestrateTurnModelTimeout(t *testing.T) {
	mock := genai.NewMockClient("too late")
	mock.Delay = func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}
	states := convstate.New(convstate.Config{})
	roundsMgr := rounds.NewManager(nil)
	e := New(mock, states, roundsMgr, Config{ModelTimeout: 20 * time.Millisecond})
	e.Start("neg-1", testListing())

	d, err := e.OrchestrateTurn(context.Background(), "neg-1", "hello")
	if err != nil {
		t.Fatalf("timeout should degrade to fallback, got %v", err)
	}
	if !d.IsFallback {
		t.Error("timed-out model call should produce the fallback decision")
	}
}

func TestLimitPolicyConvertsCounter(t *testing.T) {
	// The model keeps countering, so no outcome is recorded. Once the round
	// budget is spent the increment is denied and the limit policy rewrites
	// the decision into a definitive close.
	mock := genai.NewMockClient("I hear you, but how about $2,150 instead?")
	e := newTestEngine(mock)
	listing := testListing()
	listing.MaxRounds = 1
	e.Start("neg-1", listing)

	if _, err := e.OrchestrateTurn(context.Background(), "neg-1", "I'll offer $2100"); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	d, err := e.OrchestrateTurn(context.Background(), "neg-1", "Still at $2100")
	if err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}
	if d.Action != models.ActionAccept {
		t.Fatalf("offer above floor at limit should accept, got %s (%s)", d.Action, d.Reasoning)
	}
	if d.Offer == nil || !d.Offer.Final || d.Offer.Source != models.OfferSourceAccepted {
		t.Errorf("limit accept should fix the buyer's offer as final: %+v", d.Offer)
	}
	if stage, _ := e.rounds.Lifecycle("neg-1"); stage != rounds.StageAccepted {
		t.Errorf("a limit-policy close is a recorded outcome, not expiry, got %s", stage)
	}

	// The negotiation is concluded: no further model calls are permitted.
	calls := mock.Calls()
	_, err = e.OrchestrateTurn(context.Background(), "neg-1", "hello again")
	if !errors.Is(err, models.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if mock.Calls() != calls {
		t.Error("a concluded negotiation must not reach the model")
	}
}

func TestLimitPolicyRejectsBelowFloor(t *testing.T) {
	mock := genai.NewMockClient("That's too low, how about $2,300?")
	e := newTestEngine(mock)
	listing := testListing()
	listing.MaxRounds = 1
	e.Start("neg-1", listing)

	e.OrchestrateTurn(context.Background(), "neg-1", "I'll offer $1500")
	d, err := e.OrchestrateTurn(context.Background(), "neg-1", "Still $1500, take it or leave it")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if d.Action != models.ActionReject {
		t.Errorf("offer below floor at limit should reject, got %s", d.Action)
	}
	if d.Offer != nil {
		t.Error("limit reject should carry no offer")
	}
	if stage, _ := e.rounds.Lifecycle("neg-1"); stage != rounds.StageRejected {
		t.Errorf("a limit-policy close is a recorded outcome, not expiry, got %s", stage)
	}
}

func TestOrchestrateTurnUnknownNegotiation(t *testing.T) {
	e := newTestEngine(genai.NewMockClient("hi"))
	_, err := e.OrchestrateTurn(context.Background(), "ghost", "hello")
	if !errors.Is(err, models.ErrStateNotFound) {
		t.Errorf("expected ErrStateNotFound, got %v", err)
	}
}

func TestStartValidatesListing(t *testing.T) {
	e := newTestEngine(genai.NewMockClient("hi"))
	bad := testListing()
	bad.MinPrice = 3000 // above base
	if err := e.Start("neg-1", bad); !errors.Is(err, models.ErrContextInvalid) {
		t.Errorf("expected ErrContextInvalid, got %v", err)
	}
}

func TestAcceptRecordsOutcome(t *testing.T) {
	mock := genai.NewMockClient("You know what, I accept your offer. Deal!")
	e := newTestEngine(mock)
	e.Start("neg-1", testListing())

	d, err := e.OrchestrateTurn(context.Background(), "neg-1", "Final offer: $2400")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if d.Action != models.ActionAccept {
		t.Fatalf("expected accept, got %s", d.Action)
	}
	if _, err := e.OrchestrateTurn(context.Background(), "neg-1", "wait, actually..."); !errors.Is(err, models.ErrLimitExceeded) {
		t.Errorf("turns after acceptance must be refused, got %v", err)
	}
}

func TestRecoverResumesNegotiation(t *testing.T) {
	mirror := store.NewInMemoryStore()
	states := convstate.New(convstate.Config{Mirror: mirror})
	e := New(genai.NewMockClient("how about $2,300"), states, rounds.NewManager(nil), Config{})
	e.Start("neg-1", testListing())
	e.OrchestrateTurn(context.Background(), "neg-1", "I can do $2100")

	// Simulated restart: fresh engine over the same mirror.
	states2 := convstate.New(convstate.Config{Mirror: mirror})
	e2 := New(genai.NewMockClient("how about $2,300"), states2, rounds.NewManager(nil), Config{})
	if err := e2.Recover("neg-1"); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	d, err := e2.OrchestrateTurn(context.Background(), "neg-1", "ok, $2,250 then")
	if err != nil {
		t.Fatalf("turn after recovery failed: %v", err)
	}
	if d.Action == "" {
		t.Error("recovered negotiation should produce decisions")
	}
	summary, _ := e2.GetSummary("neg-1")
	if !strings.Contains(summary, "round 2") {
		t.Errorf("recovered negotiation should continue from round 1: %q", summary)
	}
}

func TestRecoverRestoresRoundBudget(t *testing.T) {
	mirror := store.NewInMemoryStore()
	states := convstate.New(convstate.Config{Mirror: mirror})
	e := New(genai.NewMockClient("how about $2,300"), states, rounds.NewManager(nil), Config{})
	listing := testListing()
	listing.MaxRounds = 2
	e.Start("neg-1", listing)
	if _, err := e.OrchestrateTurn(context.Background(), "neg-1", "I'll offer $2100"); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}

	// Simulated restart with no durable record: the snapshot alone must
	// carry the spent round forward.
	states2 := convstate.New(convstate.Config{Mirror: mirror})
	mgr2 := rounds.NewManager(nil)
	e2 := New(genai.NewMockClient("I hear you, but how about $2,150 instead?"), states2, mgr2, Config{})
	if err := e2.Recover("neg-1"); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	status, err := mgr2.CheckLimit("neg-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if status.Remaining != 1 {
		t.Fatalf("restart must not re-grant spent rounds, remaining = %d", status.Remaining)
	}

	if _, err := e2.OrchestrateTurn(context.Background(), "neg-1", "still $2100"); err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}
	d, err := e2.OrchestrateTurn(context.Background(), "neg-1", "still $2100, last chance")
	if err != nil {
		t.Fatalf("turn 3 failed: %v", err)
	}
	if d.Action != models.ActionAccept {
		t.Errorf("third round after restart should hit the limit policy, got %s (%s)", d.Action, d.Reasoning)
	}
}

func TestStartDefaultsMaxRounds(t *testing.T) {
	e := newTestEngine(genai.NewMockClient("how about $2,300"))
	listing := testListing()
	listing.MaxRounds = 0
	if err := e.Start("neg-1", listing); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := e.OrchestrateTurn(context.Background(), "neg-1", "I'll offer $2100"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	summary, _ := e.GetSummary("neg-1")
	if !strings.Contains(summary, "of 10") {
		t.Errorf("state and limits should share the defaulted maximum: %q", summary)
	}
}

func TestExportNegotiationDelegates(t *testing.T) {
	e := newTestEngine(genai.NewMockClient("counter at $2,300, how about it"))
	e.Start("neg-1", testListing())
	e.OrchestrateTurn(context.Background(), "neg-1", "offer: $2000")

	data, err := e.ExportNegotiation("neg-1", models.ExportText)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.Contains(string(data), "Negotiation neg-1") {
		t.Errorf("export missing header: %s", data)
	}
	if _, err := e.ExportNegotiation("neg-1", models.ExportFormat("yaml")); !errors.Is(err, models.ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}
