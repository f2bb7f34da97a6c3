package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxlens/voxlens/types"
)

// Evaluator computes the six call-quality metrics over a transcript. The
// metrics are independent and commutative, so they run concurrently; the
// overall score is the unweighted mean of metrics that produced a
// positive score, and metrics with no signal are excluded rather than
// counted as zero.
type Evaluator struct {
	jobs *JobsScorer
}

// NewEvaluator builds an evaluator. The jobs scorer may be nil, in which
// case the jobs-to-be-done metric always uses the keyword heuristic.
func NewEvaluator(jobs *JobsScorer) *Evaluator {
	return &Evaluator{jobs: jobs}
}

// Evaluate scores a transcript. kb holds the agent's expected jobs and
// may be empty. Evaluation itself never fails; the error return covers
// context cancellation only.
func (e *Evaluator) Evaluate(ctx context.Context, entries []types.TranscriptEntry, kb []*types.KnowledgeBaseEntry, language string) (*types.EvaluationResult, error) {
	result := &types.EvaluationResult{ProcessedAt: time.Now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result.Latency = scoreLatency(entries)
		return nil
	})
	g.Go(func() error {
		result.Interruption = scoreInterruption(entries)
		return nil
	})
	g.Go(func() error {
		result.Pronunciation = scorePronunciation(entries)
		return nil
	})
	g.Go(func() error {
		result.Repetition = scoreRepetition(entries)
		return nil
	})
	g.Go(func() error {
		result.Disconnection = scoreDisconnection(entries, language)
		return nil
	})
	g.Go(func() error {
		if e.jobs != nil {
			result.JobsToBeDone = e.jobs.Score(gctx, entries, kb, language)
		}
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := []float64{
		result.Latency.Score,
		result.Interruption.Score,
		result.Pronunciation.Score,
		result.Repetition.Score,
		result.Disconnection.Score,
		result.JobsToBeDone.Score,
	}
	var sum float64
	n := 0
	for _, s := range scores {
		if s > 0 {
			sum += s
			n++
		}
	}
	if n > 0 {
		result.OverallScore = sum / float64(n)
	}
	result.Grade = types.GradeForScore(result.OverallScore)
	result.CriticalIssues, result.Recommendations = deriveFindings(result)

	return result, nil
}
