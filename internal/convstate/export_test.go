package convstate

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/haggleworks/dealgent/internal/models"
)

func exportFixture(t *testing.T) *Store {
	t.Helper()
	s := newTestStore()
	if _, err := s.Create("neg-1", testMeta()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	s.AppendMessage("neg-1", buyerMessage("opening message", 1800))
	s.AppendMessage("neg-1", models.Message{Sender: models.SenderAgent, Text: "counter at 2200", Offer: &models.Offer{Amount: 2200}})
	return s
}

func TestExportJSON(t *testing.T) {
	s := exportFixture(t)
	data, err := s.Export("neg-1", models.ExportJSON)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	var st models.NegotiationState
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if st.ID != "neg-1" || len(st.Offers) != 2 {
		t.Errorf("exported state mismatch: id=%s offers=%d", st.ID, len(st.Offers))
	}
}

func TestExportCSV(t *testing.T) {
	s := exportFixture(t)
	data, err := s.Export("neg-1", models.ExportCSV)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("export is not valid CSV: %v", err)
	}
	if len(rows) != 3 { // header + two messages
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[1][2] != "buyer" || rows[1][4] != "1800.00" {
		t.Errorf("buyer row mismatch: %v", rows[1])
	}
}

func TestExportText(t *testing.T) {
	s := exportFixture(t)
	data, err := s.Export("neg-1", models.ExportText)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	text := string(data)
	for _, want := range []string{"Negotiation neg-1", "buyer: opening message", "agent: counter at 2200"} {
		if !strings.Contains(text, want) {
			t.Errorf("text export missing %q", want)
		}
	}
}

func TestExportUnknownFormat(t *testing.T) {
	s := exportFixture(t)
	if _, err := s.Export("neg-1", models.ExportFormat("xml")); !errors.Is(err, models.ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestExportDoesNotPerturbState(t *testing.T) {
	s := exportFixture(t)
	before, _ := s.Get("neg-1")
	for _, f := range []models.ExportFormat{models.ExportJSON, models.ExportCSV, models.ExportText} {
		if _, err := s.Export("neg-1", f); err != nil {
			t.Fatalf("export %s failed: %v", f, err)
		}
	}
	after, _ := s.Get("neg-1")
	if len(after.Messages()) != len(before.Messages()) || after.Round != before.Round {
		t.Error("export mutated live state")
	}
}
