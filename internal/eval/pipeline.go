package eval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/coderag/coderag/internal/adapter"
	cerr "github.com/coderag/coderag/internal/errors"
)

// Default evaluation cut-offs.
var DefaultKValues = []int{1, 3, 5, 10}

// Options configures one evaluation run.
type Options struct {
	// KValues are the cut-offs to score at. Empty means DefaultKValues.
	KValues []int

	// Metrics selects the metrics to compute. Empty means all.
	Metrics []string

	// Normalize controls prediction and ground-truth identifier mapping.
	Normalize NormalizeOptions

	// Parallelism bounds concurrent adapter calls. Values below 2 run
	// sequentially, which respects downstream rate limits.
	Parallelism int
}

// Report is the aggregate outcome of a run.
type Report struct {
	Adapter         string                     `json:"adapter"`
	Dataset         string                     `json:"dataset"`
	Scores          map[string]map[int]float64 `json:"metrics"`
	QuestionCount   int                        `json:"question_count"`
	FailedQuestions int                        `json:"failed_questions"`
	DurationMS      int64                      `json:"wall_time_ms"`
	StartedAt       time.Time                  `json:"started_at"`
}

// Runner evaluates an adapter against datasets.
type Runner struct {
	adapter adapter.Adapter
	logger  *slog.Logger
	runLog  *RunLog
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithRunLog persists each run record after completion.
func WithRunLog(log *RunLog) RunnerOption {
	return func(r *Runner) { r.runLog = log }
}

// NewRunner builds a runner over the given adapter.
func NewRunner(a adapter.Adapter, opts ...RunnerOption) *Runner {
	r := &Runner{adapter: a, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NormalizeOptionsFromDataset derives normalization flags from the
// dataset's evaluation_options block.
func NormalizeOptionsFromDataset(ds *Dataset) NormalizeOptions {
	var opts NormalizeOptions
	if ds == nil || ds.Metadata.EvaluationOptions == nil {
		return opts
	}
	if v, ok := ds.Metadata.EvaluationOptions["convert_filepath_to_classpath"].(bool); ok {
		opts.ConvertFilepathToClasspath = v
	}
	if v, ok := ds.Metadata.EvaluationOptions["ignore_method_names"].(bool); ok {
		opts.IgnoreMethodNames = v
	}
	return opts
}

// Run validates the dataset, retrieves predictions for every question,
// and aggregates per-metric-per-k averages. Per-question failures do
// not abort the run; they contribute empty predictions.
func (r *Runner) Run(ctx context.Context, ds *Dataset, opts Options) (*Report, error) {
	report := ValidateDataset(ds.Dir)
	if report.Blocking() {
		return nil, cerr.New(cerr.ErrCodeInvalidDataset,
			"dataset failed validation: "+strings.Join(report.FormatErrors, "; "), nil)
	}
	for _, warn := range report.ConsistencyErrors {
		r.logger.Warn("dataset_consistency_warning", "dataset", ds.Metadata.Name, "detail", warn)
	}

	kValues := opts.KValues
	if len(kValues) == 0 {
		kValues = DefaultKValues
	}
	metrics := opts.Metrics
	if len(metrics) == 0 {
		metrics = AllMetrics()
	}
	maxK := 0
	for _, k := range kValues {
		if k > maxK {
			maxK = k
		}
	}
	if maxK <= 0 {
		return nil, cerr.New(cerr.ErrCodeInvalidMetricArgs, "k values must contain a positive cut-off", nil)
	}

	start := time.Now()
	predictions, failed := r.collectPredictions(ctx, ds.Questions, maxK, opts)

	scores := make(map[string]map[int]float64, len(metrics))
	for _, metric := range metrics {
		scores[metric] = make(map[int]float64, len(kValues))
		for _, k := range kValues {
			total := 0.0
			counted := 0
			for i, q := range ds.Questions {
				truth := NormalizeGroundTruth(q.Answers, opts.Normalize)
				if len(truth) == 0 {
					continue
				}
				score, err := Compute(metric, predictions[i], truth, k)
				if err != nil {
					return nil, err
				}
				total += score
				counted++
			}
			if counted > 0 {
				scores[metric][k] = total / float64(counted)
			} else {
				scores[metric][k] = 0
			}
		}
	}

	result := &Report{
		Adapter:         r.adapter.Name(),
		Dataset:         ds.Metadata.Name,
		Scores:          scores,
		QuestionCount:   len(ds.Questions),
		FailedQuestions: failed,
		DurationMS:      time.Since(start).Milliseconds(),
		StartedAt:       start,
	}

	if r.runLog != nil {
		if err := r.runLog.Append(ctx, result); err != nil {
			r.logger.Warn("run_log_append_failed", "error", err)
		}
	}

	r.logger.Info("evaluation_completed",
		"adapter", result.Adapter,
		"dataset", result.Dataset,
		"questions", result.QuestionCount,
		"failed_questions", result.FailedQuestions,
		"duration_ms", result.DurationMS)
	return result, nil
}

// collectPredictions retrieves for every question, sequentially by
// default or under a semaphore when parallelism is requested.
func (r *Runner) collectPredictions(ctx context.Context, questions []EvaluationQuestion, maxK int, opts Options) (predictions [][]string, failed int) {
	predictions = make([][]string, len(questions))

	if opts.Parallelism < 2 {
		for i, q := range questions {
			preds, err := r.retrieveOne(ctx, q.Question, maxK, opts.Normalize)
			if err != nil {
				r.logger.Warn("question_retrieval_failed", "question_index", i, "error", err)
				failed++
				predictions[i] = nil
				continue
			}
			predictions[i] = preds
		}
		return predictions, failed
	}

	sem := semaphore.NewWeighted(int64(opts.Parallelism))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, q := range questions {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			failed += len(questions) - i
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(i int, question string) {
			defer wg.Done()
			defer sem.Release(1)
			preds, err := r.retrieveOne(ctx, question, maxK, opts.Normalize)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Warn("question_retrieval_failed", "question_index", i, "error", err)
				failed++
				return
			}
			predictions[i] = preds
		}(i, q.Question)
	}
	wg.Wait()
	return predictions, failed
}

func (r *Runner) retrieveOne(ctx context.Context, question string, k int, norm NormalizeOptions) ([]string, error) {
	results, err := r.adapter.Retrieve(ctx, question, k)
	if err != nil {
		return nil, err
	}
	preds := make([]string, 0, len(results))
	for _, res := range results {
		preds = append(preds, PredictionID(res, norm))
	}
	return preds, nil
}

// SortedKValues returns the report's cut-offs in ascending order, for
// stable rendering.
func (rep *Report) SortedKValues() []int {
	seen := make(map[int]struct{})
	var ks []int
	for _, byK := range rep.Scores {
		for k := range byK {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				ks = append(ks, k)
			}
		}
	}
	sort.Ints(ks)
	return ks
}
