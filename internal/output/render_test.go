package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/coderag/coderag/internal/eval"
	"github.com/coderag/coderag/internal/search"
)

func TestSearchResults_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)

	r.SearchResults("order controller", &search.Response{
		Results: []*search.FusedResult{
			{ID: "c1", CombinedScore: 0.72, Content: "class OrderController {\n}", FilePath: "a/OrderController.java"},
		},
		VectorLegUsed: true,
		BM25LegUsed:   true,
	})

	out := buf.String()
	assert.Contains(t, out, "order controller")
	assert.Contains(t, out, "c1")
	assert.Contains(t, out, "0.7200")
	assert.Contains(t, out, "a/OrderController.java")
	assert.Contains(t, out, "class OrderController {")
	// Buffers are not terminals; no ANSI escape sequences.
	assert.NotContains(t, out, "\x1b[")
}

func TestSearchResults_Empty(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).SearchResults("nothing", &search.Response{})
	assert.Contains(t, buf.String(), "no results")
}

func TestEvaluationReport(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).EvaluationReport(&eval.Report{
		Adapter:       "mock",
		Dataset:       "library-qa",
		QuestionCount: 10,
		Scores: map[string]map[int]float64{
			"hit": {1: 0.5, 5: 0.9},
			"mrr": {1: 0.5, 5: 0.65},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "mock")
	assert.Contains(t, out, "library-qa")
	assert.Contains(t, out, "@1")
	assert.Contains(t, out, "@5")
	assert.Contains(t, out, "0.9000")
}

func TestValidationReport(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).ValidationReport(&eval.ValidationReport{
		IsValid:           false,
		FileChecks:        map[string]bool{"metadata.json": true, "queries.jsonl": false},
		FormatErrors:      []string{"question 2: missing answer"},
		ConsistencyErrors: []string{"question_count mismatch"},
		Statistics:        map[string]any{"question_count": 2},
	})

	out := buf.String()
	assert.Contains(t, out, "INVALID")
	assert.Contains(t, out, "missing answer")
	assert.Contains(t, out, "question_count mismatch")
}

func TestRunHistory(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).RunHistory([]*eval.RunRecord{
		{ID: 1, StartedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			Adapter: "bearer", Dataset: "library-qa", QuestionCount: 20, FailedQuestions: 1},
	})
	out := buf.String()
	assert.Contains(t, out, "bearer")
	assert.Contains(t, out, "2026-08-01")

	buf.Reset()
	New(&buf).RunHistory(nil)
	assert.Contains(t, buf.String(), "no recorded runs")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "short", firstLine("  short  "))
	assert.Equal(t, "a", firstLine("a\nb\nc"))
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, firstLine(string(long)), 103)
}
