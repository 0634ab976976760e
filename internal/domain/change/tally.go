package change

import (
	"encoding/json"
	"strings"

	"forestwatch/pkg/errors"
)

// Tally counts pixels per label transition
type Tally struct {
	Counts  map[Transition]int
	Changed int
	Total   int
}

// NewTally returns a tally with every transition present at zero
func NewTally() Tally {
	t := Tally{Counts: make(map[Transition]int)}
	for _, tr := range AllTransitions() {
		t.Counts[tr] = 0
	}
	return t
}

// Observe records one pixel's historical and current label
func (t *Tally) Observe(historical, current Label) {
	t.Total++
	if historical == current {
		return
	}
	t.Changed++
	t.Counts[Transition{From: historical, To: current}]++
}

// Count returns the number of pixels for from->to
func (t Tally) Count(from, to Label) int {
	return t.Counts[Transition{From: from, To: to}]
}

// Downgraded sums all downgrade transitions
func (t Tally) Downgraded() int {
	n := 0
	for tr, c := range t.Counts {
		if tr.Downgrade() {
			n += c
		}
	}
	return n
}

// Percentage is Changed/Total*100, 0 without data
func (t Tally) Percentage() float64 {
	if t.Total == 0 {
		return 0
	}
	return float64(t.Changed) / float64(t.Total) * 100
}

type tallyJSON struct {
	Counts  map[string]int `json:"transitions"`
	Changed int            `json:"changed_pixels"`
	Total   int            `json:"total_pixels"`
}

// MarshalJSON encodes transitions as "from->to" keys
func (t Tally) MarshalJSON() ([]byte, error) {
	out := tallyJSON{Counts: make(map[string]int, len(t.Counts)), Changed: t.Changed, Total: t.Total}
	for tr, c := range t.Counts {
		out.Counts[tr.String()] = c
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the "from->to" form
func (t *Tally) UnmarshalJSON(data []byte) error {
	var in tallyJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	t.Counts = make(map[Transition]int, len(in.Counts))
	for k, c := range in.Counts {
		from, to, ok := strings.Cut(k, "->")
		tr := Transition{From: Label(from), To: Label(to)}
		if !ok || !tr.From.Valid() || !tr.To.Valid() {
			return errors.NewValidationError("transitions", "unknown transition key", k)
		}
		t.Counts[tr] = c
	}
	t.Changed, t.Total = in.Changed, in.Total
	return nil
}
