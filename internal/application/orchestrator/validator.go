package orchestrator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aescanero/dagrun/pkg/domain"
)

// Validator checks task requests and plans before anything is stored
type Validator struct {
	maxDescriptionLength int
	maxSubtasks          int
}

// NewValidator creates a new request validator
func NewValidator(maxDescriptionLength, maxSubtasks int) *Validator {
	return &Validator{
		maxDescriptionLength: maxDescriptionLength,
		maxSubtasks:          maxSubtasks,
	}
}

// ValidateRequest checks a submission
func (v *Validator) ValidateRequest(req *domain.TaskRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", domain.ErrInvalidRequest)
	}

	if strings.TrimSpace(req.Task) == "" {
		return fmt.Errorf("%w: task description is required", domain.ErrInvalidRequest)
	}

	if v.maxDescriptionLength > 0 && utf8.RuneCountInString(req.Task) > v.maxDescriptionLength {
		return fmt.Errorf("%w: task description exceeds %d characters",
			domain.ErrInvalidRequest, v.maxDescriptionLength)
	}

	if v.maxSubtasks > 0 && len(req.Subtasks) > v.maxSubtasks {
		return fmt.Errorf("%w: at most %d subtasks are allowed", domain.ErrInvalidRequest, v.maxSubtasks)
	}

	for i, st := range req.Subtasks {
		if st.Type == "" {
			return fmt.Errorf("%w: subtask %d has no type", domain.ErrInvalidRequest, i)
		}
	}

	return nil
}

// ValidatePlan checks that subtasks form an acyclic graph with known
// dependencies
func (v *Validator) ValidatePlan(subtasks []domain.Subtask) error {
	if len(subtasks) == 0 {
		return fmt.Errorf("%w: plan has no subtasks", domain.ErrConfiguration)
	}
	if err := domain.ValidateGraph(subtasks); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}
	return nil
}
