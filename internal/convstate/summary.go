package convstate

import (
	"fmt"
	"strings"

	"github.com/haggleworks/dealgent/internal/models"
)

// Summarize renders the last maxMessages turns of the active branch as a
// compact transcript headed by round count, phase, and success probability.
// This is the only view of stored state fed back into prompt construction,
// which keeps the model prompt bounded no matter how long the conversation
// runs. maxMessages <= 0 means the full retained history.
func (s *Store) Summarize(id string, maxMessages int) (string, error) {
	tr, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	st := tr.state
	msgs := st.Messages()
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Negotiation %s: round %d of %d, phase %s, success probability %.2f\n",
		st.ID, st.Round, st.MaxRounds, st.Analytics.Phase, st.Analytics.SuccessProbability)
	if last := st.LastOffer(models.SenderBuyer); last != nil {
		fmt.Fprintf(&b, "Latest buyer offer: %.2f %s (round %d)\n", last.Amount, last.Currency, last.Round)
	}
	for _, m := range msgs {
		text := m.CleanText
		if text == "" {
			text = m.Text
		}
		line := text
		if m.Offer != nil {
			line = fmt.Sprintf("%s [offer: %.2f]", text, m.Offer.Amount)
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Sender, line)
	}
	return b.String(), nil
}
