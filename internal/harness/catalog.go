package harness

import (
	"context"
	"fmt"
	"time"
)

const (
	TestDatasetName          = "Test Dataset - DELETE ME"
	EvaluatorTestDatasetName = "Evaluator Test Dataset - DELETE ME"
	EvaluatorTestName        = "Test Length Check - DELETE ME"

	chinookFixture = "chinook.db"
	defaultProject = "default"
)

// TestCase is one autonomous test: a prompt for the agent and the checks
// run against what it leaves behind.
type TestCase struct {
	// Key selects the test on the command line.
	Key         string
	Name        string
	Title       string
	Description string
	Prompt      string
	// Fixtures are copied from the fixtures directory into the test
	// directory before the agent starts.
	Fixtures []string
	// AlwaysTemp runs the test in a temporary copy of the environment even
	// when the caller did not ask for one.
	AlwaysTemp   bool
	Timeout      time.Duration
	Validate     func(ctx context.Context, summary, dir string) (passed, failed []string)
	CleanupNotes []string
}

type CatalogOptions struct {
	Project string
	// Runs and Datasets enable the remote checks when set.
	Runs     RunLister
	Datasets DatasetReader
}

// SuiteOrder lists the suite's tests so that each one finds the traces and
// datasets its predecessors produced.
var SuiteOrder = []string{
	"langchain-agents",
	"langsmith-trace",
	"langsmith-dataset-generation",
	"langsmith-dataset-upload",
	"langsmith-evaluator",
}

// Catalog returns every known test case.
func Catalog(opts CatalogOptions) []TestCase {
	project := opts.Project
	if project == "" {
		project = defaultProject
	}

	return []TestCase{
		{
			Key:         "langchain-agents",
			Name:        "LangGraph Code",
			Title:       "SQL Agent Creation",
			Description: "Create SQL agent using modern patterns",
			Prompt: AutonomousPrompt(`Build a Python text-to-SQL agent using LangChain that can query the chinook.db SQLite database (in current directory).

The agent should:
- Use modern LangChain patterns
- Use ChatOpenAI with gpt-4o-mini
- Include proper error handling
- Only allow SELECT queries for safety

Save to sql_agent.py and run it with a few test queries to generate traces to LangSmith.

Do not ask clarifying questions.`),
			Fixtures:   []string{chinookFixture},
			AlwaysTemp: true,
			Timeout:    300 * time.Second,
			Validate:   agentValidation("langchain-agents"),
		},
		{
			Key:         "langgraph-code",
			Name:        "LangGraph SQL Agent",
			Title:       "SQL Agent Creation",
			Description: "Create SQL agent with create_agent and ChatAnthropic",
			Prompt: AutonomousPrompt(`Create a Python text-to-SQL agent using LangChain that can query a SQLite database.

Requirements:
- Use the chinook.db database (assume it exists in current directory)
- Use the @tool decorator from langchain_core.tools for database operations
- Use ChatAnthropic with claude-sonnet-4-5 model
- Use create_agent from langchain.agents (NOT the legacy create_sql_agent)
- Include a simple @tool function that executes SELECT queries only
- Add basic error handling for invalid queries

Save the complete agent code to a file called sql_agent.py.

After creating the agent, run it with 2-3 test queries to generate traces to LangSmith:
- "What are the top 5 albums?"
- "How many customers are there?"
- "List the first 3 tracks"

The agent will automatically trace to the LangSmith project specified in LANGSMITH_PROJECT environment variable.

Do not ask any clarifying questions - implement this specific design.`),
			Fixtures: []string{chinookFixture},
			Timeout:  180 * time.Second,
			Validate: agentValidation("langgraph-code"),
		},
		{
			Key:         "langsmith-trace",
			Name:        "LangSmith Trace Query",
			Title:       "LangSmith Trace Query",
			Description: "Query and extract recent traces",
			Prompt: AutonomousPrompt(fmt.Sprintf(`Use the langsmith-trace skill to list the 5 most recent traces from the LangSmith project "%s".

Then, get details about the first trace (most recent one).

Save the trace ID to a file called test_trace_id.txt in the current directory.

Do not ask any clarifying questions - implement this specific design.`, project)),
			Timeout: 180 * time.Second,
			Validate: func(ctx context.Context, summary, dir string) ([]string, []string) {
				v := NewValidator().
					CheckSkill("langsmith-trace", summary).
					CheckFileExists(TraceIDFile, dir, "trace ID file").
					CheckUUIDFormat(TraceIDFile, dir)
				if opts.Runs != nil {
					v.CheckTraceInLangSmith(ctx, opts.Runs, dir, project)
				}
				return v.Results()
			},
		},
		{
			Key:         "langsmith-dataset-generation",
			Name:        "LangSmith Dataset Generation",
			Title:       "LangSmith Dataset Generation",
			Description: "Generate dataset from traces (no upload)",
			Prompt: AutonomousPrompt(fmt.Sprintf(`Use the langsmith-dataset skill to generate a small test dataset (5 examples) of type "final_response" from the LangSmith project "%s".

Save the dataset to test_dataset.json in the current directory (do NOT upload to LangSmith).

Also create a file called test_dataset_info.txt with the project name and example count.

Do not ask any clarifying questions - implement this specific design.`, project)),
			Timeout: 180 * time.Second,
			Validate: func(_ context.Context, summary, dir string) ([]string, []string) {
				return NewValidator().
					CheckSkill("langsmith-dataset", summary).
					CheckDatasetJSON(dir).
					CheckInfoFile(dir).
					Results()
			},
		},
		{
			Key:         "langsmith-dataset-upload",
			Name:        "LangSmith Dataset Upload",
			Title:       "LangSmith Dataset Upload",
			Description: "Generate and upload dataset",
			Prompt: AutonomousPrompt(fmt.Sprintf(`Use the langsmith-dataset skill to generate a small test dataset (3 examples) of type "trajectory" from the LangSmith project "%s".

Upload to LangSmith with name: "%s"

Use --replace flag but DO NOT use --yes flag (respect confirmation prompts).

Store the dataset name in test_dataset_upload_name.txt in the current directory.

Do not ask any clarifying questions - implement this specific design.`, project, TestDatasetName)),
			Timeout: 180 * time.Second,
			Validate: func(ctx context.Context, summary, dir string) ([]string, []string) {
				v := NewValidator().
					CheckSkill("langsmith-dataset", summary).
					CheckDatasetUploaded(dir, TestDatasetName)
				if opts.Datasets != nil {
					v.CheckDatasetInLangSmith(ctx, opts.Datasets, TestDatasetName)
				}
				return v.Results()
			},
			CleanupNotes: []string{fmt.Sprintf("Delete dataset: '%s'", TestDatasetName)},
		},
		{
			Key:         "langsmith-evaluator",
			Name:        "LangSmith Evaluator Upload",
			Title:       "LangSmith Evaluator Upload",
			Description: "Create and upload evaluator",
			Prompt: AutonomousPrompt(fmt.Sprintf(`Create a test evaluator and upload it to LangSmith.

Steps:
1. First, create a temporary dataset for testing:
   - Generate 2 examples of type "final_response" from the LangSmith project "%s"
   - Upload to LangSmith with name: "%s"
   - Store dataset name in test_evaluator_dataset_name.txt

2. Create a simple evaluator function in test_evaluator.py with:
   - Function name: test_length_check
   - Purpose: Check if output length is > 10 characters
   - Return format: {"length_check": 1 if len > 10 else 0, "comment": "..."}
   - Use (run, example) signature for LangSmith upload

3. Upload the evaluator using langsmith-evaluator skill:
   - Name: "%s"
   - Attach to dataset: "%s"
   - Use --replace flag but DO NOT use --yes flag

4. Store the evaluator name in test_evaluator_name.txt

Do not ask any clarifying questions - implement this specific design.`, project, EvaluatorTestDatasetName, EvaluatorTestName, EvaluatorTestDatasetName)),
			Timeout: 300 * time.Second,
			Validate: func(_ context.Context, summary, dir string) ([]string, []string) {
				return NewValidator().
					CheckSkill("langsmith-evaluator", summary).
					CheckDatasetCreated(dir, EvaluatorTestDatasetName).
					CheckEvaluatorFunction(dir).
					CheckEvaluatorUploaded(dir, EvaluatorTestName).
					Results()
			},
			CleanupNotes: []string{
				fmt.Sprintf("Delete dataset: '%s'", EvaluatorTestDatasetName),
				fmt.Sprintf("Delete evaluator: '%s'", EvaluatorTestName),
			},
		},
	}
}

func agentValidation(skill string) func(context.Context, string, string) ([]string, []string) {
	return func(_ context.Context, summary, dir string) ([]string, []string) {
		return NewValidator().
			CheckSkill(skill, summary).
			CheckModernPatterns(summary).
			CheckLegacyPatternsAvoided(summary).
			CheckAgentFile(dir).
			Results()
	}
}

// Lookup finds the case with the given key.
func Lookup(cases []TestCase, key string) (TestCase, bool) {
	for _, tc := range cases {
		if tc.Key == key {
			return tc, true
		}
	}
	return TestCase{}, false
}

// Keys lists the case keys in catalog order.
func Keys(cases []TestCase) []string {
	keys := make([]string, 0, len(cases))
	for _, tc := range cases {
		keys = append(keys, tc.Key)
	}
	return keys
}
