package eval

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderag/coderag/internal/store"
)

// scriptedAdapter returns canned results per question.
type scriptedAdapter struct {
	mu      sync.Mutex
	results map[string][]*store.RetrievalResult
	fail    map[string]bool
	calls   int
}

func (s *scriptedAdapter) Name() string { return "scripted" }

func (s *scriptedAdapter) Retrieve(ctx context.Context, query string, k int) ([]*store.RetrievalResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fail[query] {
		return nil, errors.New("backend down")
	}
	return s.results[query], nil
}

func (s *scriptedAdapter) HealthCheck(ctx context.Context) bool { return true }
func (s *scriptedAdapter) Close() error                         { return nil }

func hitFor(classFile string) *store.RetrievalResult {
	return &store.RetrievalResult{
		ID:       classFile,
		Content:  "class body",
		Score:    0.9,
		FilePath: "src/main/java/com/skax/library/controller/" + classFile,
	}
}

const pipelineJSONL = `{"question": "loans", "answer": "com.skax.library.controller.LoanController", "difficulty": "easy"}
{"question": "books", "answer": "com.skax.library.controller.BookController", "difficulty": "easy"}
`

func newPipelineFixture(t *testing.T) (*Dataset, *scriptedAdapter) {
	t.Helper()
	dir := writeDataset(t, `{"name": "library-qa", "format": "jsonl"}`, "queries.jsonl", pipelineJSONL)
	ds, err := LoadDataset(dir)
	require.NoError(t, err)

	sa := &scriptedAdapter{
		results: map[string][]*store.RetrievalResult{
			"loans": {hitFor("LoanController.java"), hitFor("ReservationController.java")},
			"books": {hitFor("AuthorController.java"), hitFor("BookController.java")},
		},
		fail: map[string]bool{},
	}
	return ds, sa
}

func discardRunner(a *scriptedAdapter, opts ...RunnerOption) *Runner {
	opts = append(opts, WithRunnerLogger(slog.New(slog.DiscardHandler)))
	return NewRunner(a, opts...)
}

func TestRun_AggregatesAcrossQuestions(t *testing.T) {
	ds, sa := newPipelineFixture(t)
	runner := discardRunner(sa)

	report, err := runner.Run(context.Background(), ds, Options{
		KValues:   []int{1, 2},
		Metrics:   []string{MetricHit, MetricMRR},
		Normalize: NormalizeOptions{ConvertFilepathToClasspath: true},
	})
	require.NoError(t, err)

	assert.Equal(t, "scripted", report.Adapter)
	assert.Equal(t, 2, report.QuestionCount)
	assert.Zero(t, report.FailedQuestions)

	// Question 1 hits at rank 1, question 2 at rank 2.
	assert.InDelta(t, 0.5, report.Scores[MetricHit][1], 1e-9)
	assert.InDelta(t, 1.0, report.Scores[MetricHit][2], 1e-9)
	assert.InDelta(t, 0.5, report.Scores[MetricMRR][1], 1e-9)
	assert.InDelta(t, 0.75, report.Scores[MetricMRR][2], 1e-9)

	// One adapter call per question at k = max(k_values).
	assert.Equal(t, 2, sa.calls)
	assert.Equal(t, []int{1, 2}, report.SortedKValues())
}

func TestRun_FailedQuestionContributesZero(t *testing.T) {
	ds, sa := newPipelineFixture(t)
	sa.fail["loans"] = true
	runner := discardRunner(sa)

	report, err := runner.Run(context.Background(), ds, Options{
		KValues:   []int{2},
		Metrics:   []string{MetricHit},
		Normalize: NormalizeOptions{ConvertFilepathToClasspath: true},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.FailedQuestions)
	// books still hits; loans contributes 0.
	assert.InDelta(t, 0.5, report.Scores[MetricHit][2], 1e-9)
}

func TestRun_RefusesBlockingDataset(t *testing.T) {
	dir := writeDataset(t, `{"format": "jsonl"}`, "queries.jsonl", pipelineJSONL)
	ds, err := LoadDataset(dir)
	require.NoError(t, err)

	runner := discardRunner(&scriptedAdapter{fail: map[string]bool{}})
	_, err = runner.Run(context.Background(), ds, Options{})
	require.Error(t, err)
}

func TestRun_DefaultsApplied(t *testing.T) {
	ds, sa := newPipelineFixture(t)
	runner := discardRunner(sa)

	report, err := runner.Run(context.Background(), ds, Options{
		Normalize: NormalizeOptions{ConvertFilepathToClasspath: true},
	})
	require.NoError(t, err)

	assert.Len(t, report.Scores, len(AllMetrics()))
	for _, metric := range AllMetrics() {
		assert.Len(t, report.Scores[metric], len(DefaultKValues), metric)
	}
}

func TestRun_BoundedParallelism(t *testing.T) {
	ds, sa := newPipelineFixture(t)
	runner := discardRunner(sa)

	report, err := runner.Run(context.Background(), ds, Options{
		KValues:     []int{2},
		Metrics:     []string{MetricHit},
		Normalize:   NormalizeOptions{ConvertFilepathToClasspath: true},
		Parallelism: 4,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, report.Scores[MetricHit][2], 1e-9)
}

func TestRun_PersistsRunRecord(t *testing.T) {
	ds, sa := newPipelineFixture(t)

	log, err := OpenRunLog(t.TempDir() + "/runs.db")
	require.NoError(t, err)
	defer log.Close()

	runner := discardRunner(sa, WithRunLog(log))
	_, err = runner.Run(context.Background(), ds, Options{
		KValues: []int{2}, Metrics: []string{MetricHit},
		Normalize: NormalizeOptions{ConvertFilepathToClasspath: true},
	})
	require.NoError(t, err)

	records, err := log.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "scripted", records[0].Adapter)
	assert.Equal(t, "library-qa", records[0].Dataset)
	assert.InDelta(t, 1.0, records[0].Scores[MetricHit][2], 1e-9)
}
