package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
)

// LLMWorker delegates a subtask to a language model.
type LLMWorker struct {
	kind   string
	client ports.LLMClient
}

// NewLLMWorker creates an LLM-backed worker for kind
func NewLLMWorker(kind string, client ports.LLMClient) *LLMWorker {
	return &LLMWorker{kind: kind, client: client}
}

// NewLLMWorkers returns one LLM worker per built-in type
func NewLLMWorkers(client ports.LLMClient) map[string]ports.Worker {
	out := make(map[string]ports.Worker, len(BuiltinTypes))
	for _, kind := range BuiltinTypes {
		out[kind] = NewLLMWorker(kind, client)
	}
	return out
}

// Execute sends the subtask and upstream results to the model
func (w *LLMWorker) Execute(ctx context.Context, subtask domain.Subtask, input map[string]interface{}) (domain.Outcome, error) {
	system := fmt.Sprintf("You perform %s subtasks. Answer in markdown using ## section headings.",
		strings.ReplaceAll(w.kind, "_", " "))

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Task: %s\n", inputString(input, domain.InputTask))
	if subtask.Description != "" {
		fmt.Fprintf(&prompt, "Subtask: %s\n", subtask.Description)
	}
	for _, r := range inputResults(input) {
		fmt.Fprintf(&prompt, "\nResult of %s:\n%s\n", r.Type, r.Result)
	}

	text, err := w.client.Complete(ctx, system, prompt.String())
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("llm completion: %w", err)
	}
	return domain.Completed(text), nil
}
