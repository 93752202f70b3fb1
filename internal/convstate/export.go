package convstate

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/haggleworks/dealgent/internal/models"
)

// Export serializes a negotiation for audit or sharing. All formats are pure
// transformations of the same state copy, so exporting never perturbs the
// live negotiation.
func (s *Store) Export(id string, format models.ExportFormat) ([]byte, error) {
	st, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	switch format {
	case models.ExportJSON:
		return json.MarshalIndent(st, "", "  ")
	case models.ExportCSV:
		return exportCSV(st)
	case models.ExportText:
		return exportText(st), nil
	default:
		return nil, fmt.Errorf("format %q: %w", format, models.ErrUnknownFormat)
	}
}

func exportCSV(st *models.NegotiationState) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"timestamp", "branch", "sender", "text", "offer_amount", "offer_currency"}); err != nil {
		return nil, err
	}
	for _, name := range branchOrder(st) {
		b := st.Branches[name]
		for _, m := range b.Messages {
			amount, currency := "", ""
			if m.Offer != nil {
				amount = fmt.Sprintf("%.2f", m.Offer.Amount)
				currency = m.Offer.Currency
			}
			text := m.CleanText
			if text == "" {
				text = m.Text
			}
			if err := w.Write([]string{m.Timestamp.Format(time.RFC3339), name, string(m.Sender), text, amount, currency}); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func exportText(st *models.NegotiationState) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Negotiation %s\nCreated: %s\nRounds: %d/%d\nBranch: %s\n\n",
		st.ID, st.CreatedAt.Format(time.RFC3339), st.Round, st.MaxRounds, st.ActiveBranch)
	for _, m := range st.Messages() {
		text := m.CleanText
		if text == "" {
			text = m.Text
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Sender, text)
	}
	return []byte(b.String())
}

// branchOrder lists branch names with main first, then the rest sorted by
// creation time, so exports are stable without leaning on map iteration
// order.
func branchOrder(st *models.NegotiationState) []string {
	names := []string{}
	if _, ok := st.Branches[models.MainBranch]; ok {
		names = append(names, models.MainBranch)
	}
	rest := []string{}
	for name := range st.Branches {
		if name != models.MainBranch {
			rest = append(rest, name)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		return st.Branches[rest[i]].CreatedAt.Before(st.Branches[rest[j]].CreatedAt)
	})
	return append(names, rest...)
}
