package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/aescanero/dagrun/internal/application/workers"
	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/google/uuid"
)

type rule struct {
	kind        string
	keywords    []string
	description string
	// dependsOn lists types this one waits on when they are in the plan
	// and the trigger word appears in the request.
	dependsOn func(text string) []string
}

var rules = []rule{
	{
		kind:        workers.TypeWebResearch,
		keywords:    []string{"research", "find", "search"},
		description: "Research information related to the task",
	},
	{
		kind:        workers.TypeDataAnalysis,
		keywords:    []string{"analyze", "analyse", "data", "statistics"},
		description: "Analyze data related to the task",
		dependsOn:   when("research", workers.TypeWebResearch),
	},
	{
		kind:        workers.TypeCodeGeneration,
		keywords:    []string{"code", "program", "script"},
		description: "Generate code based on task requirements",
		dependsOn:   when("analy", workers.TypeDataAnalysis),
	},
	{
		kind:        workers.TypeContentCreation,
		keywords:    []string{"write", "create", "generate", "summarize", "summarise"},
		description: "Create content based on task requirements",
		dependsOn: func(string) []string {
			return []string{workers.TypeWebResearch, workers.TypeDataAnalysis, workers.TypeCodeGeneration}
		},
	},
}

func when(word string, kinds ...string) func(string) []string {
	return func(text string) []string {
		if strings.Contains(text, word) {
			return kinds
		}
		return nil
	}
}

// KeywordPlanner derives subtasks from keywords in the task description and
// closes every plan with a result_orchestration subtask depending on all
// others. Explicit subtasks in the request take precedence.
type KeywordPlanner struct {
	newID func() string
}

// NewKeywordPlanner creates a planner issuing uuid subtask ids
func NewKeywordPlanner() *KeywordPlanner {
	return &KeywordPlanner{newID: uuid.NewString}
}

// Plan returns the subtasks for req
func (p *KeywordPlanner) Plan(ctx context.Context, req *domain.TaskRequest) ([]domain.Subtask, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", domain.ErrInvalidRequest)
	}
	if len(req.Subtasks) > 0 {
		return p.explicit(req.Subtasks), nil
	}

	text := strings.ToLower(req.Task)
	ids := make(map[string]string)
	var plan []domain.Subtask

	for _, r := range rules {
		if !containsAny(text, r.keywords) {
			continue
		}
		st := domain.Subtask{ID: p.newID(), Type: r.kind, Description: r.description}
		if r.dependsOn != nil {
			for _, dep := range r.dependsOn(text) {
				if id, ok := ids[dep]; ok {
					st.Dependencies = append(st.Dependencies, domain.Dependency{SubtaskID: id})
				}
			}
		}
		ids[r.kind] = st.ID
		plan = append(plan, st)
	}

	if len(plan) == 0 {
		plan = append(plan, domain.Subtask{
			ID:          p.newID(),
			Type:        workers.TypeGeneralExecution,
			Description: "Execute the general task",
		})
	}

	final := domain.Subtask{
		ID:          p.newID(),
		Type:        workers.TypeResultOrchestration,
		Description: "Combine results from all subtasks",
	}
	for _, st := range plan {
		final.Dependencies = append(final.Dependencies, domain.Dependency{SubtaskID: st.ID})
	}
	return append(plan, final), nil
}

func (p *KeywordPlanner) explicit(subtasks []domain.Subtask) []domain.Subtask {
	out := make([]domain.Subtask, len(subtasks))
	for i, st := range subtasks {
		if st.ID == "" {
			st.ID = p.newID()
		}
		st.Dependencies = append([]domain.Dependency(nil), st.Dependencies...)
		out[i] = st
	}
	return out
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
