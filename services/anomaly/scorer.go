package anomaly

import "context"

// Score is the outcome of evaluating a request against behavioral signals.
// Scores range 0-100; higher means more suspicious.
type Score struct {
	Score                  int
	Reasons                []string
	RequiresAdditionalAuth bool
}

// Signals carries the request attributes a scorer may evaluate.
type Signals struct {
	UserID      string
	SessionID   string
	IP          string
	Path        string
	Method      string
	UserAgent   string
	Fingerprint string
}

// Scorer evaluates a request for suspicious activity. Implementations decide
// their own signal weighting; the admission gate only interprets the result.
type Scorer interface {
	Score(ctx context.Context, signals Signals) (Score, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, signals Signals) (Score, error)

func (f ScorerFunc) Score(ctx context.Context, signals Signals) (Score, error) {
	return f(ctx, signals)
}

// NopScorer reports every request as clean.
type NopScorer struct{}

func (NopScorer) Score(context.Context, Signals) (Score, error) {
	return Score{}, nil
}
