package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/voxlens/voxlens/llm"
	"github.com/voxlens/voxlens/types"
)

// JobsScorer computes the jobs-to-be-done metric. When the agent has a
// knowledge base it asks a language model to map the transcript against
// the expected jobs; on any failure, or without a knowledge base, it
// falls back to a keyword heuristic. The metric never fails the
// evaluation stage.
type JobsScorer struct {
	completer completer
	logger    *zap.Logger
}

// completer is the slice of the provider registry the scorer needs.
type completer interface {
	Complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

// NewJobsScorer builds a scorer over a completion capability.
func NewJobsScorer(c completer, logger *zap.Logger) *JobsScorer {
	return &JobsScorer{
		completer: c,
		logger:    logger.With(zap.String("component", "jobs_scorer")),
	}
}

type jobsVerdict struct {
	Score         float64  `json:"score"`
	CompletedJobs []string `json:"completed_jobs"`
	MissingSteps  []string `json:"missing_steps"`
}

// Score computes the metric for a transcript given the agent's expected
// jobs (may be empty) and the call language.
func (s *JobsScorer) Score(ctx context.Context, entries []types.TranscriptEntry, jobs []*types.KnowledgeBaseEntry, language string) types.JobsMetric {
	if len(jobs) > 0 && s.completer != nil {
		if m, err := s.scoreWithModel(ctx, entries, jobs); err == nil {
			return m
		} else {
			s.logger.Warn("model-based jobs scoring failed, using heuristic",
				zap.Error(err))
		}
	}
	return s.scoreHeuristic(entries, language)
}

func (s *JobsScorer) scoreWithModel(ctx context.Context, entries []types.TranscriptEntry, jobs []*types.KnowledgeBaseEntry) (types.JobsMetric, error) {
	var jobList strings.Builder
	for _, j := range jobs {
		fmt.Fprintf(&jobList, "- %s", j.Name)
		if len(j.RequiredSteps) > 0 {
			fmt.Fprintf(&jobList, " (required steps: %s)", strings.Join(j.RequiredSteps, ", "))
		}
		jobList.WriteString("\n")
	}

	var transcript strings.Builder
	for _, e := range withoutSentinels(entries) {
		fmt.Fprintf(&transcript, "%s: %s\n", e.Role, e.Text)
	}

	prompt := fmt.Sprintf(`You review call-center transcripts. Expected jobs for this agent:
%s
Transcript:
%s
Judge how completely the expected jobs were accomplished. Respond with only a JSON object:
{"score": <0-100>, "completed_jobs": [...], "missing_steps": [...]}`,
		jobList.String(), transcript.String())

	resp, err := s.completer.Complete(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a precise call quality analyst. Answer with JSON only."},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: 0,
	})
	if err != nil {
		return types.JobsMetric{}, err
	}

	verdict, err := parseJobsVerdict(resp.Content)
	if err != nil {
		return types.JobsMetric{}, err
	}
	return types.JobsMetric{
		Score:         types.ClampScore(verdict.Score),
		CompletedJobs: verdict.CompletedJobs,
		MissingSteps:  verdict.MissingSteps,
		Source:        "llm",
	}, nil
}

// parseJobsVerdict extracts the JSON object from a completion, tolerating
// surrounding prose and code fences.
func parseJobsVerdict(content string) (*jobsVerdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in completion")
	}
	var v jobsVerdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("failed to parse jobs verdict: %w", err)
	}
	return &v, nil
}

func (s *JobsScorer) scoreHeuristic(entries []types.TranscriptEntry, language string) types.JobsMetric {
	lex := lexiconFor(language)

	var all strings.Builder
	for _, e := range withoutSentinels(entries) {
		all.WriteString(e.Text)
		all.WriteString(" ")
	}
	text := all.String()

	score := 40.0
	if _, ok := containsAny(text, lex.completionWords); ok {
		score = 75
	} else if _, ok := containsAny(text, lex.taskContextWords); ok {
		score = 55
	}

	return types.JobsMetric{
		Score:  types.ClampScore(score),
		Source: "heuristic",
	}
}
