package convstate

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haggleworks/dealgent/internal/models"
	"github.com/haggleworks/dealgent/internal/store"
)

func newTestStore() *Store {
	return New(Config{})
}

func testMeta() models.StateMeta {
	return models.StateMeta{BasePrice: 2500, MinPrice: 2000, MaxRounds: 8}
}

func buyerMessage(text string, offer float64) models.Message {
	m := models.Message{Sender: models.SenderBuyer, Text: text, CleanText: text}
	if offer > 0 {
		m.Offer = &models.Offer{Amount: offer, Currency: models.DefaultCurrency}
	}
	return m
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore()
	st, err := s.Create("neg-1", testMeta())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if st.ActiveBranch != models.MainBranch || st.MaxRounds != 8 {
		t.Errorf("unexpected initial state: %+v", st)
	}
	if _, err := s.Create("neg-1", testMeta()); err == nil {
		t.Error("duplicate create should fail")
	}
	if _, err := s.Get("unknown"); !errors.Is(err, models.ErrStateNotFound) {
		t.Errorf("expected ErrStateNotFound, got %v", err)
	}
}

func TestAppendMessageIsAppendOnly(t *testing.T) {
	s := newTestStore()
	s.Create("neg-1", testMeta())

	const n = 7
	for i := 0; i < n; i++ {
		if _, err := s.AppendMessage("neg-1", buyerMessage(fmt.Sprintf("message %d", i), 0)); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}
	summary, err := s.Summarize("neg-1", 0)
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	for i := 0; i < n; i++ {
		if !strings.Contains(summary, fmt.Sprintf("message %d", i)) {
			t.Errorf("summary missing message %d", i)
		}
	}
	// Call order is preserved.
	if strings.Index(summary, "message 0") > strings.Index(summary, "message 6") {
		t.Error("messages out of order in summary")
	}
}

func TestAppendUpdatesRoundAndOffers(t *testing.T) {
	s := newTestStore()
	s.Create("neg-1", testMeta())

	st, _ := s.AppendMessage("neg-1", buyerMessage("I can do $1800", 1800))
	if st.Round != 1 {
		t.Errorf("buyer message should advance round, got %d", st.Round)
	}
	if len(st.Offers) != 1 || st.Offers[0].Amount != 1800 || st.Offers[0].Sender != models.SenderBuyer {
		t.Errorf("offer history wrong: %+v", st.Offers)
	}

	agent := models.Message{Sender: models.SenderAgent, Text: "How about 2200?", Offer: &models.Offer{Amount: 2200}}
	st, _ = s.AppendMessage("neg-1", agent)
	if st.Round != 1 {
		t.Errorf("agent message should not advance round, got %d", st.Round)
	}
	if len(st.Offers) != 2 {
		t.Errorf("expected 2 offers, got %d", len(st.Offers))
	}
}

func TestRetentionCapDropsOldest(t *testing.T) {
	s := New(Config{MaxMessages: 5})
	s.Create("neg-1", testMeta())
	for i := 0; i < 9; i++ {
		s.AppendMessage("neg-1", buyerMessage(fmt.Sprintf("m%d", i), 0))
	}
	st, _ := s.Get("neg-1")
	msgs := st.Messages()
	if len(msgs) != 5 {
		t.Fatalf("expected 5 retained messages, got %d", len(msgs))
	}
	if msgs[0].Text != "m4" {
		t.Errorf("oldest retained should be m4, got %s", msgs[0].Text)
	}
}

func TestAnalyticsRecomputedOnAppend(t *testing.T) {
	s := newTestStore()
	s.Create("neg-1", testMeta())

	before, _ := s.Analytics("neg-1")
	s.AppendMessage("neg-1", buyerMessage("This looks great, fair price!", 2300))
	after, _ := s.Analytics("neg-1")

	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Error("analytics should be recomputed on append")
	}
	if after.SuccessProbability < before.SuccessProbability {
		t.Errorf("positive sentiment and near-target offer should not lower probability: %.2f -> %.2f",
			before.SuccessProbability, after.SuccessProbability)
	}
	if after.SuccessProbability < 0 || after.SuccessProbability > 1 {
		t.Errorf("probability out of range: %.2f", after.SuccessProbability)
	}
}

func TestBranchingIsolation(t *testing.T) {
	s := newTestStore()
	s.Create("neg-1", testMeta())
	s.AppendMessage("neg-1", buyerMessage("main line", 0))

	if err := s.CreateBranch("neg-1", "hardball", models.MainBranch); err != nil {
		t.Fatalf("create branch failed: %v", err)
	}
	if err := s.CreateBranch("neg-1", "hardball", models.MainBranch); !errors.Is(err, models.ErrBranchExists) {
		t.Errorf("duplicate branch should fail with ErrBranchExists, got %v", err)
	}
	if err := s.CreateBranch("neg-1", "x", "missing-parent"); !errors.Is(err, models.ErrBranchNotFound) {
		t.Errorf("missing parent should fail with ErrBranchNotFound, got %v", err)
	}

	if err := s.SwitchBranch("neg-1", "hardball"); err != nil {
		t.Fatalf("switch failed: %v", err)
	}
	s.AppendMessage("neg-1", buyerMessage("branch line", 0))

	st, _ := s.Get("neg-1")
	if len(st.Branches["hardball"].Messages) != 1 {
		t.Error("branch should carry exactly its own message")
	}
	for _, m := range st.Branches[models.MainBranch].Messages {
		if m.Text == "branch line" {
			t.Error("branch message leaked into main history")
		}
	}
	if st.Branches[models.MainBranch].Messages[0].Text != "main line" {
		t.Error("switching branches must not delete the main line")
	}
	if err := s.SwitchBranch("neg-1", "nope"); !errors.Is(err, models.ErrBranchNotFound) {
		t.Errorf("switch to unknown branch should fail, got %v", err)
	}
}

func TestEvictExpired(t *testing.T) {
	s := New(Config{TTL: 50 * time.Millisecond})
	s.Create("old", testMeta())
	time.Sleep(80 * time.Millisecond)
	s.Create("fresh", testMeta())

	if n := s.EvictExpired(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if s.Tracked("old") {
		t.Error("expired negotiation should be gone")
	}
	if !s.Tracked("fresh") {
		t.Error("fresh negotiation should survive")
	}
	if _, err := s.Get("old"); !errors.Is(err, models.ErrStateNotFound) {
		t.Errorf("evicted id should surface not-found, got %v", err)
	}
}

func TestConcurrentAppendsAcrossNegotiations(t *testing.T) {
	s := newTestStore()
	const negotiations = 8
	const perNegotiation = 20
	for i := 0; i < negotiations; i++ {
		s.Create(fmt.Sprintf("neg-%d", i), testMeta())
	}
	var wg sync.WaitGroup
	for i := 0; i < negotiations; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < perNegotiation; j++ {
				if _, err := s.AppendMessage(id, buyerMessage(fmt.Sprintf("m%d", j), 0)); err != nil {
					t.Errorf("append on %s failed: %v", id, err)
				}
			}
		}(fmt.Sprintf("neg-%d", i))
	}
	wg.Wait()
	for i := 0; i < negotiations; i++ {
		st, err := s.Get(fmt.Sprintf("neg-%d", i))
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if len(st.Messages()) != perNegotiation {
			t.Errorf("neg-%d: expected %d messages, got %d", i, perNegotiation, len(st.Messages()))
		}
	}
}

func TestMirrorRoundTrip(t *testing.T) {
	mirror := store.NewInMemoryStore()
	s := New(Config{Mirror: mirror})
	s.Create("neg-1", testMeta())
	s.AppendMessage("neg-1", buyerMessage("I can offer 2100", 2100))

	// Fresh store simulating a restarted process.
	s2 := New(Config{Mirror: mirror})
	st, err := s2.Recover("neg-1")
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if st.Round != 1 || len(st.Offers) != 1 || st.Offers[0].Amount != 2100 {
		t.Errorf("recovered state mismatch: %+v", st)
	}
	if !s2.Tracked("neg-1") {
		t.Error("recovered negotiation should be tracked")
	}
}

func TestRecoverUnknownSnapshot(t *testing.T) {
	s := New(Config{Mirror: store.NewInMemoryStore()})
	if _, err := s.Recover("ghost"); !errors.Is(err, models.ErrStateNotFound) {
		t.Errorf("expected ErrStateNotFound, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := newTestStore()
	s.Create("neg-1", testMeta())
	s.AppendMessage("neg-1", buyerMessage("original", 0))

	st, _ := s.Get("neg-1")
	st.Branches[models.MainBranch].Messages[0].Text = "mutated"

	again, _ := s.Get("neg-1")
	if again.Messages()[0].Text != "original" {
		t.Error("caller mutation leaked into tracked state")
	}
}

func TestGetCopiesMessagePointers(t *testing.T) {
	s := newTestStore()
	s.Create("neg-1", testMeta())
	s.AppendMessage("neg-1", buyerMessage("I can pay $2100", 2100))

	st, _ := s.Get("neg-1")
	msg := st.Branches[models.MainBranch].Messages[0]
	if msg.Offer == nil || msg.Meta == nil {
		t.Fatal("buyer message should carry offer and meta")
	}
	msg.Offer.Amount = 1
	msg.Meta.Sentiment = -99

	again, _ := s.Get("neg-1")
	fresh := again.Messages()[0]
	if fresh.Offer.Amount != 2100 {
		t.Errorf("offer mutation leaked into tracked state: %.2f", fresh.Offer.Amount)
	}
	if fresh.Meta.Sentiment == -99 {
		t.Error("meta mutation leaked into tracked state")
	}
}
