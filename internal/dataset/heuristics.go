package dataset

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ongoingai/smithkit/internal/langsmith"
	"github.com/ongoingai/smithkit/internal/output"
	"github.com/ongoingai/smithkit/internal/runquery"
)

// commonOutputKeys are checked when no caller-supplied output field matched.
var commonOutputKeys = []string{"answer", "output"}

// FirstHumanMessage returns the first user turn from a run's inputs. It
// reads inputs.messages, falling back to inputs.input.
func FirstHumanMessage(inputs map[string]any) string {
	if len(inputs) == 0 {
		return ""
	}
	messages, ok := inputs["messages"]
	if !ok {
		messages, ok = inputs["input"]
		if !ok {
			messages = []any{}
		}
	}
	switch v := messages.(type) {
	case []any:
		for _, msg := range v {
			switch m := msg.(type) {
			case map[string]any:
				if m["type"] == "human" || m["role"] == "user" {
					return messageText(m["content"])
				}
			case string:
				return m
			}
		}
		return ""
	case string:
		return v
	}
	return ""
}

// messageText renders message content. Content-block lists keep the text
// of their "text" blocks; lists without any are rendered as JSON.
func messageText(content any) string {
	blocks, ok := content.([]any)
	if !ok {
		return stringify(content)
	}
	if len(blocks) == 0 {
		return ""
	}
	var parts []string
	for _, block := range blocks {
		switch b := block.(type) {
		case string:
			parts = append(parts, b)
		case map[string]any:
			if text, ok := b["text"].(string); ok && b["type"] == "text" {
				parts = append(parts, text)
			}
		}
	}
	if len(parts) == 0 {
		return stringify(content)
	}
	return strings.Join(parts, "\n")
}

// FinalAIMessage walks runs newest first and returns the first usable
// response: the last message's content, then the named output fields,
// then "answer" or "output", then the whole output object as JSON. With
// messagesOnly only message content is considered.
func FinalAIMessage(runs []langsmith.Run, outputFields []string, messagesOnly bool) string {
	sorted := append([]langsmith.Run(nil), runs...)
	runquery.SortNewestFirst(sorted)

	for _, run := range sorted {
		if len(run.Outputs) == 0 {
			continue
		}
		outputs := run.Outputs

		if msgs := outputs["messages"]; truthy(msgs) {
			last := msgs
			if list, ok := msgs.([]any); ok {
				last = list[len(list)-1]
			}
			var content string
			if m, ok := last.(map[string]any); ok {
				if c, present := m["content"]; present {
					if truthy(c) {
						content = stringify(c)
					}
				} else {
					content = stringify(m)
				}
			} else {
				content = stringify(last)
			}
			if content != "" && content != "None" {
				return content
			}
		}

		if messagesOnly {
			continue
		}

		for _, key := range outputFields {
			if val := outputs[key]; truthy(val) {
				return stringify(val)
			}
		}
		for _, key := range commonOutputKeys {
			if val := outputs[key]; truthy(val) {
				return stringify(val)
			}
		}

		encoded, err := output.JSON(outputs)
		if err != nil {
			return ""
		}
		return encoded
	}
	return ""
}

// ToolSequence lists lowercased tool run names in start order. A non-nil
// maxDepth keeps only tools at most that many parent hops below the root.
func ToolSequence(runs []langsmith.Run, maxDepth *int) []string {
	parents := make(map[string]string, len(runs))
	for _, run := range runs {
		parents[run.ID] = run.ParentID()
	}
	depth := func(runID string) int {
		d, current := 0, runID
		seen := map[string]bool{}
		for parents[current] != "" && !seen[current] {
			seen[current] = true
			d, current = d+1, parents[current]
		}
		return d
	}

	sorted := append([]langsmith.Run(nil), runs...)
	runquery.SortOldestFirst(sorted)

	var tools []string
	for _, run := range sorted {
		if run.RunType != "tool" {
			continue
		}
		if maxDepth != nil && depth(run.ID) > *maxDepth {
			continue
		}
		tools = append(tools, strings.ToLower(run.Name))
	}
	return tools
}

// NodeIO is one invocation of a named node.
type NodeIO struct {
	NodeName string
	Inputs   map[string]any
	Outputs  map[string]any
	RunID    string
}

// NodeIOs collects every invocation of runName (or of every run when
// runName is empty) that produced outputs, in start order.
func NodeIOs(runs []langsmith.Run, runName string) []NodeIO {
	sorted := make([]langsmith.Run, 0, len(runs))
	for _, run := range runs {
		if runName == "" || run.Name == runName {
			sorted = append(sorted, run)
		}
	}
	runquery.SortOldestFirst(sorted)

	var nodes []NodeIO
	for _, run := range sorted {
		if len(run.Outputs) == 0 {
			continue
		}
		inputs := run.Inputs
		if inputs == nil {
			inputs = map[string]any{}
		}
		nodes = append(nodes, NodeIO{NodeName: run.Name, Inputs: inputs, Outputs: run.Outputs, RunID: run.ID})
	}
	return nodes
}

type RetrievalData struct {
	Query           string
	RetrievedChunks []string
	Answer          string
}

// FindRetrievalData pulls the query and retrieved chunks from retriever
// runs, falling back to tool runs whose name mentions retrieval or search.
// The answer is the trace's final response.
func FindRetrievalData(runs []langsmith.Run) RetrievalData {
	var data RetrievalData

	var retrievers []langsmith.Run
	for _, run := range runs {
		if run.RunType == "retriever" {
			retrievers = append(retrievers, run)
		}
	}
	if len(retrievers) == 0 {
		for _, run := range runs {
			name := strings.ToLower(run.Name)
			if run.RunType == "tool" && (strings.Contains(name, "retriev") || strings.Contains(name, "search")) {
				retrievers = append(retrievers, run)
			}
		}
	}
	runquery.SortOldestFirst(retrievers)

	for _, run := range retrievers {
		if len(run.Inputs) > 0 {
			query, ok := run.Inputs["query"]
			if !ok {
				query = run.Inputs["question"]
			}
			data.Query = stringify(query)
		}

		if len(run.Outputs) > 0 {
			docs, ok := run.Outputs["documents"]
			if !ok {
				docs, ok = run.Outputs["results"]
			}
			if !ok {
				docs = run.Outputs["chunks"]
			}
			if list, ok := docs.([]any); ok {
				for _, doc := range list {
					switch d := doc.(type) {
					case map[string]any:
						if content := firstPresent(d, "page_content", "content", "text"); truthy(content) {
							data.RetrievedChunks = append(data.RetrievedChunks, stringify(content))
						}
					case string:
						data.RetrievedChunks = append(data.RetrievedChunks, d)
					}
				}
			}
		}
		if len(data.RetrievedChunks) == 0 && len(run.Outputs) > 0 {
			data.RetrievedChunks = append(data.RetrievedChunks, stringify(run.Outputs))
		}
	}

	data.Answer = FinalAIMessage(runs, nil, false)
	return data
}

// firstPresent returns the value of the first key present in m.
func firstPresent(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return nil
}

// truthy reports whether v is a non-empty, non-zero JSON value.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// stringify renders a JSON value as text: strings as-is, numbers in their
// shortest form and containers as JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	encoded, err := output.JSON(v)
	if err != nil {
		return ""
	}
	return encoded
}
