// Package artifact drafts the ready-to-send payload attached to each triage
// item: an email, a call script, a flag note or an unblock task.
package artifact

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-intel/internal/config"
	"github.com/sells-group/pipeline-intel/internal/model"
	"github.com/sells-group/pipeline-intel/pkg/anthropic"
)

// Request carries everything a generator may draw on.
type Request struct {
	EntityID    string
	EntityName  string
	Stage       model.Stage
	Action      model.ActionType
	Probability float64
	Urgency     string
	Blockers    []model.Blocker
	// Reasons are the top explanation factors, strongest first.
	Reasons []string
}

// Generator produces an artifact for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (model.Artifact, error)
}

// Kind returns the artifact kind produced for an action type.
func Kind(a model.ActionType) string {
	switch a {
	case model.ActionCall:
		return "call_script"
	case model.ActionFlag:
		return "flag_note"
	case model.ActionUnblock:
		return "task"
	default:
		return "email"
	}
}

// New builds the generator selected by artifact.generator. A nil client
// with generator "llm" is an error.
func New(cfg *config.Config, client anthropic.Client) (Generator, error) {
	tmpl, err := NewTemplateGenerator()
	if err != nil {
		return nil, err
	}
	switch cfg.Artifact.Generator {
	case "", "template":
		return tmpl, nil
	case "llm":
		if client == nil {
			return nil, eris.New("artifact: llm generator requires an anthropic client")
		}
		return NewLLMGenerator(client, cfg.Anthropic, cfg.Artifact, tmpl), nil
	default:
		return nil, eris.Errorf("artifact: unknown generator %q", cfg.Artifact.Generator)
	}
}
