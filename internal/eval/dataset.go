package eval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cerr "github.com/coderag/coderag/internal/errors"
)

// Dataset file names. metadata.json is required; the question file is
// the first of questionFileNames present in the directory.
const metadataFileName = "metadata.json"

var questionFileNames = []string{"queries.jsonl", "questions.json", "data.json"}

// EvaluationQuestion is one annotated query with its ordered
// ground-truth answers.
type EvaluationQuestion struct {
	Question   string   `json:"question"`
	Answers    []string `json:"answer"`
	Difficulty string   `json:"difficulty"`
}

// UnmarshalJSON accepts answer as either a string or a list of
// strings, which both occur in the wild.
func (q *EvaluationQuestion) UnmarshalJSON(data []byte) error {
	var raw struct {
		Question   string          `json:"question"`
		Answer     json.RawMessage `json:"answer"`
		Difficulty string          `json:"difficulty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.Question = raw.Question
	q.Difficulty = raw.Difficulty
	q.Answers = nil

	if len(raw.Answer) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(raw.Answer, &single); err == nil {
		q.Answers = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw.Answer, &many); err != nil {
		return fmt.Errorf("answer must be a string or a list of strings: %w", err)
	}
	q.Answers = many
	return nil
}

// DatasetMetadata mirrors metadata.json.
type DatasetMetadata struct {
	Name              string         `json:"name"`
	Format            string         `json:"format"`
	QuestionCount     int            `json:"question_count,omitempty"`
	EvaluationOptions map[string]any `json:"evaluation_options,omitempty"`
}

// Dataset is a loaded question corpus.
type Dataset struct {
	Dir          string
	Metadata     DatasetMetadata
	Questions    []EvaluationQuestion
	QuestionFile string
}

// ValidationReport accumulates dataset problems. Format errors block
// evaluation; consistency errors are warnings.
type ValidationReport struct {
	IsValid           bool            `json:"is_valid"`
	FileChecks        map[string]bool `json:"file_checks"`
	FormatErrors      []string        `json:"format_errors"`
	ConsistencyErrors []string        `json:"consistency_errors"`
	Statistics        map[string]any  `json:"statistics"`
}

// Blocking reports whether evaluation must refuse to run.
func (r *ValidationReport) Blocking() bool {
	return !r.IsValid && len(r.FormatErrors) > 0
}

// LoadDataset reads metadata.json plus the first question file found.
func LoadDataset(dir string) (*Dataset, error) {
	meta, err := loadMetadata(dir)
	if err != nil {
		return nil, err
	}

	questionFile := findQuestionFile(dir)
	if questionFile == "" {
		return nil, cerr.New(cerr.ErrCodeDatasetRead,
			fmt.Sprintf("no question file in %s (want one of %s)", dir, strings.Join(questionFileNames, ", ")), nil)
	}

	questions, err := loadQuestions(filepath.Join(dir, questionFile))
	if err != nil {
		return nil, err
	}

	return &Dataset{
		Dir:          dir,
		Metadata:     *meta,
		Questions:    questions,
		QuestionFile: questionFile,
	}, nil
}

func loadMetadata(dir string) (*DatasetMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFileName))
	if err != nil {
		return nil, cerr.New(cerr.ErrCodeDatasetRead,
			fmt.Sprintf("failed to read %s", metadataFileName), err)
	}
	var meta DatasetMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, cerr.New(cerr.ErrCodeInvalidDataset,
			fmt.Sprintf("failed to parse %s", metadataFileName), err)
	}
	return &meta, nil
}

func findQuestionFile(dir string) string {
	for _, name := range questionFileNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return name
		}
	}
	return ""
}

// loadQuestions parses JSONL line by line or a JSON array, chosen by
// extension.
func loadQuestions(path string) ([]EvaluationQuestion, error) {
	if strings.HasSuffix(path, ".jsonl") {
		return loadQuestionsJSONL(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerr.New(cerr.ErrCodeDatasetRead, fmt.Sprintf("failed to read %s", path), err)
	}
	var questions []EvaluationQuestion
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, cerr.New(cerr.ErrCodeInvalidDataset,
			fmt.Sprintf("failed to parse %s", filepath.Base(path)), err)
	}
	return questions, nil
}

func loadQuestionsJSONL(path string) ([]EvaluationQuestion, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cerr.New(cerr.ErrCodeDatasetRead, fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()

	var questions []EvaluationQuestion
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var q EvaluationQuestion
		if err := json.Unmarshal([]byte(text), &q); err != nil {
			return nil, cerr.New(cerr.ErrCodeInvalidDataset,
				fmt.Sprintf("%s line %d: %v", filepath.Base(path), line, err), err)
		}
		questions = append(questions, q)
	}
	if err := scanner.Err(); err != nil {
		return nil, cerr.New(cerr.ErrCodeDatasetRead, fmt.Sprintf("failed to scan %s", path), err)
	}
	return questions, nil
}

// ValidateDataset checks the directory and accumulates problems
// instead of failing on the first one.
func ValidateDataset(dir string) *ValidationReport {
	report := &ValidationReport{
		IsValid:    true,
		FileChecks: make(map[string]bool),
		Statistics: make(map[string]any),
	}

	meta, err := loadMetadata(dir)
	report.FileChecks[metadataFileName] = err == nil
	if err != nil {
		report.IsValid = false
		report.FormatErrors = append(report.FormatErrors, err.Error())
	} else {
		if meta.Name == "" {
			report.IsValid = false
			report.FormatErrors = append(report.FormatErrors, "metadata missing required field: name")
		}
		if meta.Format == "" {
			report.IsValid = false
			report.FormatErrors = append(report.FormatErrors, "metadata missing required field: format")
		}
	}

	questionFile := findQuestionFile(dir)
	if questionFile == "" {
		report.IsValid = false
		report.FormatErrors = append(report.FormatErrors,
			fmt.Sprintf("no question file (want one of %s)", strings.Join(questionFileNames, ", ")))
		return report
	}
	questions, err := loadQuestions(filepath.Join(dir, questionFile))
	report.FileChecks[questionFile] = err == nil
	if err != nil {
		report.IsValid = false
		report.FormatErrors = append(report.FormatErrors, err.Error())
		return report
	}

	difficulties := make(map[string]int)
	seen := make(map[string]int)
	for i, q := range questions {
		if strings.TrimSpace(q.Question) == "" {
			report.IsValid = false
			report.FormatErrors = append(report.FormatErrors,
				fmt.Sprintf("question %d: empty question text", i+1))
		}
		if len(q.Answers) == 0 {
			report.IsValid = false
			report.FormatErrors = append(report.FormatErrors,
				fmt.Sprintf("question %d: missing answer", i+1))
		}
		if q.Difficulty == "" {
			report.ConsistencyErrors = append(report.ConsistencyErrors,
				fmt.Sprintf("question %d: missing difficulty", i+1))
		} else {
			difficulties[q.Difficulty]++
		}

		key := strings.ToLower(strings.TrimSpace(q.Question))
		if prev, dup := seen[key]; dup {
			report.IsValid = false
			report.FormatErrors = append(report.FormatErrors,
				fmt.Sprintf("question %d duplicates question %d", i+1, prev))
		} else {
			seen[key] = i + 1
		}
	}

	if meta != nil && meta.QuestionCount > 0 && meta.QuestionCount != len(questions) {
		report.ConsistencyErrors = append(report.ConsistencyErrors,
			fmt.Sprintf("metadata question_count %d does not match actual %d", meta.QuestionCount, len(questions)))
	}

	report.Statistics["question_count"] = len(questions)
	report.Statistics["question_file"] = questionFile
	report.Statistics["difficulties"] = difficulties
	return report
}
