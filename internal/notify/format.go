package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// FromSignal renders the engine signals worth a notification. Other kinds
// return false.
func FromSignal(s domain.Signal) (Message, bool) {
	switch v := s.(type) {
	case domain.FillSignal:
		p := v.Position
		return Message{
			Event: EventPositionOpened,
			Title: fmt.Sprintf("Paper fill %s %s", p.Tier, p.Outcome),
			Body:  p.Question,
			Fields: []Field{
				{"entry", fmt.Sprintf("%.3f", p.EntryPrice)},
				{"size", fmt.Sprintf("$%.2f", p.SizeUSD)},
				{"order", p.Note},
			},
			At: p.OpenedAt,
		}, true

	case domain.ResolutionSignal:
		p := v.Position
		m := Message{
			Event: EventPositionResolved,
			Title: fmt.Sprintf("? %s %s", p.Tier, p.Outcome),
			Body:  p.Question,
		}
		if p.Result != nil {
			m.Title = fmt.Sprintf("%s %s %s", strings.ToUpper(string(*p.Result)), p.Tier, p.Outcome)
			switch *p.Result {
			case domain.ResultWin:
				m.Tone = TonePositive
			case domain.ResultLoss:
				m.Tone = ToneNegative
			}
		}
		pnl := 0.0
		if p.RealizedPnlUSD != nil {
			pnl = *p.RealizedPnlUSD
		}
		m.Fields = append(m.Fields, Field{"pnl", fmt.Sprintf("%+.2f USD", pnl)})
		if p.StartReference != nil && p.EndReference != nil {
			m.Fields = append(m.Fields, Field{"reference", fmt.Sprintf("%.2f -> %.2f", *p.StartReference, *p.EndReference)})
		}
		if p.ClosedAt != nil {
			m.At = *p.ClosedAt
		}
		return m, true

	case domain.RolloverSignal:
		start := "n/a"
		if v.StartReference != nil {
			start = fmt.Sprintf("%.2f", *v.StartReference)
		}
		return Message{
			Event: EventWindowRolled,
			Title: "Window " + v.Current.WindowID,
			Body:  v.Current.Question,
			Fields: []Field{
				{"closes", v.Current.ClosesAt.UTC().Format("15:04:05Z")},
				{"start reference", start},
			},
			At: v.ObservedAt,
		}, true
	}
	return Message{}, false
}

func lines(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
