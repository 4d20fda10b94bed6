package types

import (
	"fmt"
	"strings"
	"time"
)

// Project is a user's generated web application.
type Project struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Name           string            `json:"name"`
	Stack          string            `json:"stack"`               // Resolved stack identifier, e.g. "nextjs"
	Settings       ProjectSettings   `json:"settings"`            // Typed user preferences
	GeneratedFiles map[string]string `json:"generated_files"`     // Latest generated file map
	Status         ProjectStatus     `json:"status"`              // draft, processing, ready, error
	LastBuiltAt    *time.Time        `json:"last_built_at"`       // Set when a container reaches running
	PreviewURL     string            `json:"preview_url"`         // Reachable URL of the active container
	Subdomain      string            `json:"subdomain,omitempty"` // Reserved routable name, if any
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ProjectSettings replaces the free-form settings bag with explicit optional fields.
// Unknown keys are ignored at parse time.
type ProjectSettings struct {
	Stack          string `json:"stack,omitempty"`           // Free-text stack, e.g. "Next.js + Tailwind"
	PreferredModel string `json:"preferred_model,omitempty"` // e.g. "gpt-4o", "claude-3-5-sonnet"
}

// modelKeys lists the accepted spellings of the preferred model, in precedence order.
var modelKeys = []string{"preferred_model", "aiModel", "ai_model", "model"}

// ParseSettings validates a loosely typed settings map from the API boundary.
// Unknown keys are ignored.
func ParseSettings(raw map[string]any) (ProjectSettings, error) {
	var s ProjectSettings
	stack, err := settingString(raw, "stack")
	if err != nil {
		return ProjectSettings{}, err
	}
	s.Stack = stack
	for _, key := range modelKeys {
		model, err := settingString(raw, key)
		if err != nil {
			return ProjectSettings{}, err
		}
		if model != "" {
			s.PreferredModel = model
			break
		}
	}
	return s, nil
}

func settingString(raw map[string]any, key string) (string, error) {
	value, ok := raw[key]
	if !ok || value == nil {
		return "", nil
	}
	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("settings.%s must be a string, got %T", key, value)
	}
	return strings.TrimSpace(str), nil
}

// MarkReady records a successful terminal outcome.
func (p *Project) MarkReady(now time.Time) {
	p.Status = ProjectReady
	p.UpdatedAt = now
}

// MarkError records a failed terminal outcome.
func (p *Project) MarkError(now time.Time) {
	p.Status = ProjectError
	p.UpdatedAt = now
}

// StackSetting returns the user's free-text stack, or the stored stack
// identifier when the settings name none.
func (p *Project) StackSetting() string {
	if p.Settings.Stack != "" {
		return p.Settings.Stack
	}
	return p.Stack
}
