package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ongoingai/smithkit/internal/langsmith"
	"github.com/ongoingai/smithkit/internal/output"
)

// Artifact files the test prompts ask the agent to produce.
const (
	TraceIDFile              = "test_trace_id.txt"
	DatasetFile              = "test_dataset.json"
	DatasetInfoFile          = "test_dataset_info.txt"
	DatasetUploadNameFile    = "test_dataset_upload_name.txt"
	EvaluatorSourceFile      = "test_evaluator.py"
	EvaluatorDatasetNameFile = "test_evaluator_dataset_name.txt"
	EvaluatorNameFile        = "test_evaluator_name.txt"
	AgentSourceFile          = "sql_agent.py"

	EvaluatorFunction = "test_length_check"
)

type RunLister interface {
	ListRuns(ctx context.Context, q langsmith.RunQuery) ([]langsmith.Run, error)
}

type DatasetReader interface {
	ReadDatasetByName(ctx context.Context, name string) (langsmith.Dataset, error)
	ListExamples(ctx context.Context, datasetID string, limit int) ([]langsmith.Example, error)
}

// CheckTraceInLangSmith confirms the trace id the agent saved exists
// remotely. A nil lister fails the check.
func (v *Validator) CheckTraceInLangSmith(ctx context.Context, runs RunLister, dir, project string) *Validator {
	if runs == nil {
		v.fail("LangSmith client not available")
		return v
	}
	data, err := os.ReadFile(filepath.Join(dir, TraceIDFile))
	if err != nil {
		v.fail("%s not found", TraceIDFile)
		return v
	}
	traceID := strings.TrimSpace(string(data))

	found, err := runs.ListRuns(ctx, langsmith.RunQuery{ProjectName: project, Trace: traceID})
	switch {
	case err != nil:
		v.fail("Error checking LangSmith for trace: %v", err)
	case len(found) == 0:
		v.fail("Trace not found in LangSmith: %s", traceID)
	default:
		v.pass("Trace exists in LangSmith: %s (%d runs)", output.ShortID(traceID), len(found))
	}
	return v
}

// CheckDatasetJSON requires a non-empty list of examples whose first
// element carries inputs and outputs.expected_response.
func (v *Validator) CheckDatasetJSON(dir string) *Validator {
	return v.CheckJSONFile(DatasetFile, dir, func(data any) (bool, string) {
		list, ok := data.([]any)
		if !ok {
			return false, fmt.Sprintf("Dataset should be a list, got %s", pyType(data))
		}
		if len(list) == 0 {
			return false, "Dataset is empty"
		}
		example, ok := list[0].(map[string]any)
		if !ok {
			return false, fmt.Sprintf("Example should be dict, got %s", pyType(list[0]))
		}
		_, hasInputs := example["inputs"]
		_, hasOutputs := example["outputs"]
		if !hasInputs || !hasOutputs {
			keys := make([]string, 0, len(example))
			for k := range example {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return false, fmt.Sprintf("Example missing required fields, found: %s", pyList(keys))
		}
		outputs, _ := example["outputs"].(map[string]any)
		if _, ok := outputs["expected_response"]; !ok {
			return false, "Example outputs missing 'expected_response' field"
		}
		return true, fmt.Sprintf("Dataset has valid structure with %d examples", len(list))
	})
}

func (v *Validator) CheckInfoFile(dir string) *Validator {
	return v.CheckFileContent(DatasetInfoFile, dir, func(content string) (bool, string) {
		if len(content) < 3 {
			return false, "Info file is empty or too short"
		}
		return true, "Info file contains: " + content
	})
}

func (v *Validator) CheckDatasetUploaded(dir, expected string) *Validator {
	return v.CheckFileContent(DatasetUploadNameFile, dir, expectName("Dataset uploaded", "Dataset name incorrect", expected))
}

// CheckDatasetInLangSmith confirms the dataset exists remotely and reports
// its example count.
func (v *Validator) CheckDatasetInLangSmith(ctx context.Context, datasets DatasetReader, name string) *Validator {
	if datasets == nil {
		v.fail("LangSmith client not available")
		return v
	}
	ds, err := datasets.ReadDatasetByName(ctx, name)
	if err != nil {
		if errors.Is(err, langsmith.ErrNotFound) {
			v.fail("Dataset not found in LangSmith: %s", name)
		} else {
			v.fail("Error checking LangSmith for dataset: %v", err)
		}
		return v
	}
	examples, err := datasets.ListExamples(ctx, ds.ID, 0)
	if err != nil {
		v.fail("Error checking LangSmith for dataset: %v", err)
		return v
	}
	v.pass("Dataset exists in LangSmith: %s (%d examples)", name, len(examples))
	return v
}

func (v *Validator) CheckDatasetCreated(dir, expected string) *Validator {
	return v.CheckFileContent(EvaluatorDatasetNameFile, dir, expectName("Dataset created", "Dataset name incorrect", expected))
}

func (v *Validator) CheckEvaluatorUploaded(dir, expected string) *Validator {
	return v.CheckFileContent(EvaluatorNameFile, dir, expectName("Evaluator uploaded", "Evaluator name incorrect", expected))
}

func expectName(okLabel, badLabel, expected string) ContentCheck {
	return func(content string) (bool, string) {
		if content == expected {
			return true, fmt.Sprintf("%s: %s", okLabel, content)
		}
		return false, fmt.Sprintf("%s: %s (expected %s)", badLabel, content, expected)
	}
}

var defPattern = regexp.MustCompile(`(?m)^[ \t]*def[ \t]+([A-Za-z_]\w*)[ \t]*\(`)

// CheckEvaluatorFunction requires test_evaluator.py to define
// test_length_check(run, example).
func (v *Validator) CheckEvaluatorFunction(dir string) *Validator {
	raw, err := os.ReadFile(filepath.Join(dir, EvaluatorSourceFile))
	if err != nil {
		v.fail("%s not found", EvaluatorSourceFile)
		return v
	}
	v.pass("Created %s", EvaluatorSourceFile)

	source := string(raw)
	defs := defPattern.FindAllStringSubmatchIndex(source, -1)
	if len(defs) == 0 {
		v.fail("No functions found in evaluator")
		return v
	}
	open := -1
	for _, m := range defs {
		if source[m[2]:m[3]] == EvaluatorFunction {
			open = m[1] - 1
			break
		}
	}
	if open < 0 {
		v.fail("Function '%s' not found", EvaluatorFunction)
		return v
	}

	params, err := positionalParams(source, open)
	if err != nil {
		v.fail("Error validating function: %v", err)
		return v
	}
	if len(params) != 2 {
		v.fail("Function should have 2 parameters, found %d", len(params))
		return v
	}
	if params[0] != "run" || params[1] != "example" {
		v.fail("Parameters should be (run, example), found %s", pyList(params))
		return v
	}
	v.pass("Function has correct signature (run, example)")
	return v
}

// positionalParams returns the names of the positional-or-keyword
// parameters of the def whose opening parenthesis is at source[open].
// Positional-only parameters (before "/"), *args, keyword-only parameters
// and **kwargs are excluded.
func positionalParams(source string, open int) ([]string, error) {
	depth := 0
	var quote byte
	start := open + 1
	var parts []string
	for i := open; i < len(source); i++ {
		c := source[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				parts = append(parts, source[start:i])
				return paramNames(parts), nil
			}
		case ',':
			if depth == 1 {
				parts = append(parts, source[start:i])
				start = i + 1
			}
		}
	}
	return nil, errors.New("unterminated parameter list")
}

func paramNames(parts []string) []string {
	var names []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
			continue
		case part == "/":
			names = nil
			continue
		case strings.HasPrefix(part, "**"):
			continue
		case strings.HasPrefix(part, "*"):
			return names
		}
		if i := strings.IndexAny(part, ":="); i >= 0 {
			part = part[:i]
		}
		names = append(names, strings.TrimSpace(part))
	}
	return names
}

var (
	modernPatterns = [][2]string{
		{"@tool", "decorator"},
		{"create_agent", "function"},
		{"ChatAnthropic", "model"},
	}
	legacyPatterns = [][2]string{
		{"LLMChain", "legacy chain"},
		{"create_sql_agent", "legacy SQL agent"},
		{"PromptTemplate", "legacy prompt"},
	}
)

func matchedLabels(patterns [][2]string, summary string) []string {
	var found []string
	for _, p := range patterns {
		if strings.Contains(summary, p[0]) {
			found = append(found, p[1])
		}
	}
	return found
}

// CheckModernPatterns passes when the summary shows at least one current
// LangChain idiom.
func (v *Validator) CheckModernPatterns(summary string) *Validator {
	if found := matchedLabels(modernPatterns, summary); len(found) > 0 {
		v.pass("Used modern patterns: %s", strings.Join(found, ", "))
	} else {
		v.fail("No modern patterns detected")
	}
	return v
}

func (v *Validator) CheckLegacyPatternsAvoided(summary string) *Validator {
	if found := matchedLabels(legacyPatterns, summary); len(found) > 0 {
		v.fail("Used legacy patterns: %s", strings.Join(found, ", "))
	} else {
		v.pass("Avoided legacy patterns")
	}
	return v
}

func (v *Validator) CheckAgentFile(dir string) *Validator {
	return v.CheckFileExists(AgentSourceFile, dir, "SQL agent code")
}

func pyType(v any) string {
	switch v.(type) {
	case map[string]any:
		return "<class 'dict'>"
	case []any:
		return "<class 'list'>"
	case string:
		return "<class 'str'>"
	case bool:
		return "<class 'bool'>"
	case float64:
		return "<class 'float'>"
	case nil:
		return "<class 'NoneType'>"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func pyList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = "'" + item + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
