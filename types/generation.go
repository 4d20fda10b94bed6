package types

import "time"

// GenerationRequest is a prompt submitted against a project. It is created by the
// API layer and mutated only by the generation orchestrator.
type GenerationRequest struct {
	ID          string             `json:"id"`
	ProjectID   string             `json:"project_id"`
	Prompt      string             `json:"prompt"`
	Status      RequestStatus      `json:"status"`
	Result      *GenerationResult  `json:"result,omitempty"`
	TokensUsed  int                `json:"tokens_used"`
	Metadata    GenerationMetadata `json:"metadata"`
	AutoDeploy  bool               `json:"auto_deploy"`
	ProcessedAt *time.Time         `json:"processed_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// GenerationResult holds either the generated file map or an error message.
type GenerationResult struct {
	Files map[string]string `json:"files,omitempty"`
	Error string            `json:"error,omitempty"`
}

// GenerationMetadata records what was asked for and what was actually used.
type GenerationMetadata struct {
	RequestedModel string `json:"requested_model,omitempty"`
	Model          string `json:"model,omitempty"`
	Provider       string `json:"provider,omitempty"`
	StackType      string `json:"stack_type,omitempty"`
}

// Advance moves the request to a later status.
func (r *GenerationRequest) Advance(to RequestStatus) error {
	if !r.Status.CanAdvance(to) {
		return invalidTransition(r.Status, to)
	}
	r.Status = to
	return nil
}

// Complete stores the generated files and marks the request completed.
func (r *GenerationRequest) Complete(files map[string]string, tokens int, now time.Time) error {
	if err := r.Advance(RequestCompleted); err != nil {
		return err
	}
	r.Result = &GenerationResult{Files: files}
	r.TokensUsed = tokens
	r.ProcessedAt = &now
	return nil
}

// Fail records an error message and marks the request failed.
func (r *GenerationRequest) Fail(message string, now time.Time) error {
	if err := r.Advance(RequestFailed); err != nil {
		return err
	}
	r.Result = &GenerationResult{Error: message}
	r.ProcessedAt = &now
	return nil
}
