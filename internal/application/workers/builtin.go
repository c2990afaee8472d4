package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
)

// Built-in subtask types.
const (
	TypeWebResearch         = "web_research"
	TypeCodeGeneration      = "code_generation"
	TypeDataAnalysis        = "data_analysis"
	TypeContentCreation     = "content_creation"
	TypeGeneralExecution    = "general_execution"
	TypeResultOrchestration = "result_orchestration"
)

// BuiltinTypes lists every type served by the built-in workers.
var BuiltinTypes = []string{
	TypeWebResearch,
	TypeCodeGeneration,
	TypeDataAnalysis,
	TypeContentCreation,
	TypeGeneralExecution,
	TypeResultOrchestration,
}

// TemplateWorker produces a deterministic markdown report for its type after
// a simulated latency.
type TemplateWorker struct {
	kind    string
	latency time.Duration
}

// NewTemplateWorker creates a template worker for kind
func NewTemplateWorker(kind string, latency time.Duration) *TemplateWorker {
	return &TemplateWorker{kind: kind, latency: latency}
}

// NewTemplateWorkers returns one template worker per built-in type
func NewTemplateWorkers(latency time.Duration) map[string]ports.Worker {
	out := make(map[string]ports.Worker, len(BuiltinTypes))
	for _, kind := range BuiltinTypes {
		out[kind] = NewTemplateWorker(kind, latency)
	}
	return out
}

// Execute waits for the simulated latency and renders the report
func (w *TemplateWorker) Execute(ctx context.Context, subtask domain.Subtask, input map[string]interface{}) (domain.Outcome, error) {
	if w.latency > 0 {
		timer := time.NewTimer(w.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return domain.Outcome{}, ctx.Err()
		case <-timer.C:
		}
	}

	task := inputString(input, domain.InputTask)
	results := inputResults(input)

	var b strings.Builder
	switch w.kind {
	case TypeWebResearch:
		fmt.Fprintf(&b, "## Research Findings\n\nTopic: %s\n\n", task)
		b.WriteString("### Key Points\n\n")
		b.WriteString("1. Primary sources were collected and ranked by relevance\n")
		b.WriteString("2. Recurring themes were extracted from the top results\n")
		b.WriteString("\n### Sources\n\n- Industry reports\n- Technical publications\n")
	case TypeCodeGeneration:
		fmt.Fprintf(&b, "## Generated Code\n\nRequirement: %s\n\n", task)
		b.WriteString("```go\nfunc run() error {\n\treturn nil\n}\n```\n")
	case TypeDataAnalysis:
		fmt.Fprintf(&b, "## Analysis\n\nSubject: %s\n\n", task)
		fmt.Fprintf(&b, "Inputs analysed: %d upstream result(s)\n", len(results))
		for _, r := range results {
			fmt.Fprintf(&b, "- %s: %d characters\n", r.Type, len(r.Result))
		}
	case TypeContentCreation:
		fmt.Fprintf(&b, "## Content\n\n%s\n\n", task)
		b.WriteString("### Outline\n\n1. Introduction\n2. Findings\n3. Conclusion\n")
	case TypeResultOrchestration:
		b.WriteString("## Combined Results\n\n")
		if len(results) == 0 {
			b.WriteString("No upstream results were available.\n")
		}
		for _, r := range results {
			fmt.Fprintf(&b, "- %s (%s) completed\n", r.Type, r.ID)
		}
	default:
		fmt.Fprintf(&b, "## Execution Report\n\nTask: %s\n\n", task)
		if subtask.Description != "" {
			fmt.Fprintf(&b, "%s\n", subtask.Description)
		}
	}

	return domain.Completed(b.String()), nil
}

func inputString(input map[string]interface{}, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

func inputResults(input map[string]interface{}) []domain.SubtaskResult {
	if v, ok := input[domain.InputSubtaskResults].([]domain.SubtaskResult); ok {
		return v
	}
	return nil
}
