package conflict

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/jask/bankmatch/internal/database/repository"
	"github.com/jask/bankmatch/internal/match"
)

// DetectorConfig holds detection tunables.
type DetectorConfig struct {
	// ScoreThreshold is the minimum composite score (out of 100) a pair
	// needs to be emitted.
	ScoreThreshold float64
	// ChunkSize is how many manual transactions a watcher pass scores
	// before yielding.
	ChunkSize int
}

// DefaultDetectorConfig returns the stock thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{ScoreThreshold: 70, ChunkSize: 20}
}

// Scorer computes the composite score and classification for one candidate
// pair. match.Scorer is the production implementation.
type Scorer interface {
	PairScore(manual, imported repository.Transaction) float64
	Classify(manual, imported repository.Transaction) match.Classification
}

// Detector produces the current set of conflict pairs for a transaction
// collection. Detect is synchronous; Watcher wraps it for debounced
// background passes.
type Detector struct {
	scorer Scorer
	cfg    DetectorConfig
	errs   chan error
}

// NewDetector builds a detector around scorer.
func NewDetector(scorer Scorer, cfg DetectorConfig) *Detector {
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 70
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 20
	}
	return &Detector{scorer: scorer, cfg: cfg, errs: make(chan error, 8)}
}

// Errors delivers pass-level computation failures. These never reach the
// recovery manager; a failed pass is simply abandoned.
func (d *Detector) Errors() <-chan error { return d.errs }

// Detect partitions txsByAccount by origin, scores every manual transaction
// against the bank transactions of its account, and returns the accepted
// pairs deduplicated by manual transaction id (highest score wins, first
// encountered breaks ties). Scoring failures for a single candidate skip
// that candidate only.
func (d *Detector) Detect(ctx context.Context, txsByAccount map[string][]repository.Transaction) ([]Pair, error) {
	var pairs []Pair
	seen := make(map[string]int) // manual tx id -> index into pairs
	accounts := sortedKeys(txsByAccount)
	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		manual, bank := partition(txsByAccount[acct])
		for _, m := range manual {
			p, ok := d.bestPairFor(m, bank)
			if !ok {
				continue
			}
			if i, dup := seen[m.ID]; dup {
				if p.Score > pairs[i].Score {
					pairs[i] = p
				}
				continue
			}
			seen[m.ID] = len(pairs)
			pairs = append(pairs, p)
		}
	}
	return pairs, nil
}

// bestPairFor scores one manual transaction against every bank candidate in
// its account and returns the top accepted pair.
func (d *Detector) bestPairFor(manual repository.Transaction, bank []repository.Transaction) (Pair, bool) {
	var best Pair
	found := false
	for _, b := range bank {
		score, class, ok := d.scoreOne(manual, b)
		if !ok || score < d.cfg.ScoreThreshold {
			continue
		}
		// strict greater-than keeps the first-encountered pair on ties
		if !found || score > best.Score {
			best = Pair{
				ID:             uuid.NewString(),
				Manual:         manual,
				Imported:       b,
				Score:          score,
				Classification: class,
				Status:         StatusUnresolved,
			}
			found = true
		}
	}
	return best, found
}

// scoreOne guards a single candidate comparison; a panic in scoring skips
// the candidate instead of aborting the pass.
func (d *Detector) scoreOne(manual, bank repository.Transaction) (score float64, class match.Classification, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			select {
			case d.errs <- fmt.Errorf("conflict: scoring %s against %s: %v", manual.ID, bank.ID, r):
			default:
			}
		}
	}()
	score = d.scorer.PairScore(manual, bank)
	class = d.scorer.Classify(manual, bank)
	return score, class, true
}

func partition(txs []repository.Transaction) (manual, bank []repository.Transaction) {
	for _, t := range txs {
		switch t.Origin {
		case repository.OriginManual:
			manual = append(manual, t)
		case repository.OriginBank:
			bank = append(bank, t)
		}
	}
	return manual, bank
}

func sortedKeys(m map[string][]repository.Transaction) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
