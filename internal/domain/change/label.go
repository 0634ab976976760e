package change

// Label is the ordinal semantic meaning of a cluster
type Label string

const (
	LabelCleared   Label = "cleared"
	LabelDegraded  Label = "degraded"
	LabelHighCover Label = "high_cover"
)

// Labels in ascending vegetation order
var Labels = []Label{LabelCleared, LabelDegraded, LabelHighCover}

// Rank orders labels by vegetation cover; -1 for unknown labels
func (l Label) Rank() int {
	switch l {
	case LabelCleared:
		return 0
	case LabelDegraded:
		return 1
	case LabelHighCover:
		return 2
	}
	return -1
}

// Valid checks if label is known
func (l Label) Valid() bool {
	return l.Rank() >= 0
}

func (l Label) String() string {
	return string(l)
}

// Transition is a (historical -> current) label change
type Transition struct {
	From Label `json:"from"`
	To   Label `json:"to"`
}

// Downgrade reports loss of vegetation cover
func (t Transition) Downgrade() bool {
	return t.To.Rank() < t.From.Rank()
}

func (t Transition) String() string {
	return string(t.From) + "->" + string(t.To)
}

// AllTransitions lists every ordered pair with From != To
func AllTransitions() []Transition {
	out := make([]Transition, 0, len(Labels)*(len(Labels)-1))
	for _, from := range Labels {
		for _, to := range Labels {
			if from != to {
				out = append(out, Transition{From: from, To: to})
			}
		}
	}
	return out
}
