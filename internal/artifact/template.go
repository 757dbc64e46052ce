package artifact

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/pipeline-intel/internal/model"
)

type templateKey struct {
	phase  model.Phase
	action model.ActionType
}

// anyPhase keys the per-action fallback template.
const anyPhase model.Phase = ""

type templateSpec struct {
	subject string
	body    string
}

var templateSpecs = map[templateKey]templateSpec{
	{model.PhaseEnquiry, model.ActionMessage}: {
		subject: "Your next step towards applying, {{.First}}",
		body: `Hi {{.First}},

Thanks for your interest. Starting your application takes about 20 minutes and we can help with any questions along the way.
{{- if .Reasons}}

We noticed: {{join .Reasons "; "}}.
{{- end}}

Reply to this email or book a call and we'll walk you through it.`,
	},
	{model.PhaseApplication, model.ActionMessage}: {
		subject: "{{.First}}, a quick update on your application",
		body: `Hi {{.First}},

Your application is currently at the {{.StageLabel}} stage.
{{- range .Blockers}}
- {{.SuggestedResolution}}
{{- end}}

Let us know if anything is holding you up and we'll sort it out together.`,
	},
	{model.PhaseInterview, model.ActionMessage}: {
		subject: "Preparing for your interview, {{.First}}",
		body: `Hi {{.First}},

You're at the {{.StageLabel}} stage. Here is what to expect next and how to prepare.
{{- range .Blockers}}
- {{.SuggestedResolution}}
{{- end}}`,
	},
	{model.PhaseOffer, model.ActionMessage}: {
		subject: "About your offer, {{.First}}",
		body: `Hi {{.First}},

Congratulations again on your offer. We'd love to help you with the next steps.
{{- range .Blockers}}
- {{.SuggestedResolution}}
{{- end}}

Reply here with any questions about fees, accommodation or arrival.`,
	},
	{model.PhaseEnrolment, model.ActionMessage}: {
		subject: "Getting ready to enrol, {{.First}}",
		body: `Hi {{.First}},

You're nearly there. Here's what's left before enrolment:
{{- range .Blockers}}
- {{.SuggestedResolution}}
{{- else}}
- confirm your arrival date
{{- end}}`,
	},
	{anyPhase, model.ActionMessage}: {
		subject: "Checking in, {{.First}}",
		body: `Hi {{.First}},

We wanted to check in on your application. Reply to this email and we'll help with whatever you need.`,
	},
	{anyPhase, model.ActionCall}: {
		body: `Call {{.Name}} ({{.StageLabel}}, {{.Percent}}% likely to progress).
{{- if .Urgency}}
Why now: {{.Urgency}}.
{{- end}}
Open: confirm they're still planning to continue.
{{- range .Reasons}}
Note: {{.}}
{{- end}}
{{- range .Blockers}}
Ask about: {{.Description}}
{{- end}}
Close: agree a concrete next step and date.`,
	},
	{model.PhaseOffer, model.ActionCall}: {
		body: `Call {{.Name}} about their offer ({{.StageLabel}}).
{{- if .Urgency}}
Why now: {{.Urgency}}.
{{- end}}
Open: congratulate them and ask how they feel about the offer.
{{- range .Blockers}}
Ask about: {{.Description}}
{{- end}}
Close: confirm the acceptance or deposit date.`,
	},
	{anyPhase, model.ActionFlag}: {
		subject: "Data issue: {{.Name}}",
		body: `{{.Name}} ({{.EntityID}}) at {{.StageLabel}} needs a record fix before outreach.
{{- range .Blockers}}
- [{{.Severity}}] {{.Description}}: {{.SuggestedResolution}}
{{- end}}`,
	},
	{anyPhase, model.ActionUnblock}: {
		subject: "Unblock {{.Name}}",
		body: `{{.Name}} is blocked at {{.StageLabel}}.
{{- range .Blockers}}
- [{{.Severity}}] {{.Description}} (about {{.EstimatedDelayDays}} days delay): {{.SuggestedResolution}}
{{- end}}`,
	},
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// TemplateGenerator renders artifacts from a table keyed by stage phase and
// action type. It never calls out and never fails for a valid action.
type TemplateGenerator struct {
	table map[templateKey]compiled
	title cases.Caser
}

// NewTemplateGenerator parses the built-in template table.
func NewTemplateGenerator() (*TemplateGenerator, error) {
	funcs := template.FuncMap{"join": strings.Join}
	g := &TemplateGenerator{
		table: make(map[templateKey]compiled, len(templateSpecs)),
		title: cases.Title(language.English),
	}
	for k, s := range templateSpecs {
		name := string(k.phase) + "/" + string(k.action)
		var c compiled
		var err error
		if s.subject != "" {
			if c.subject, err = template.New(name + "/subject").Funcs(funcs).Parse(s.subject); err != nil {
				return nil, eris.Wrapf(err, "artifact: parse %s subject", name)
			}
		}
		if c.body, err = template.New(name).Funcs(funcs).Parse(s.body); err != nil {
			return nil, eris.Wrapf(err, "artifact: parse %s body", name)
		}
		g.table[k] = c
	}
	return g, nil
}

// MustTemplateGenerator is NewTemplateGenerator for the built-in table, which
// is known to parse.
func MustTemplateGenerator() *TemplateGenerator {
	g, err := NewTemplateGenerator()
	if err != nil {
		panic(err)
	}
	return g
}

type templateData struct {
	EntityID   string
	Name       string
	First      string
	StageLabel string
	Percent    int
	Urgency    string
	Reasons    []string
	Blockers   []model.Blocker
}

// Generate renders the template for req's phase and action, falling back to
// the action's phase-independent template.
func (g *TemplateGenerator) Generate(_ context.Context, req Request) (model.Artifact, error) {
	if !req.Action.Valid() {
		return model.Artifact{}, model.InvalidInputf("artifact: unknown action type %q", req.Action)
	}

	c, ok := g.table[templateKey{req.Stage.Phase(), req.Action}]
	if !ok {
		c = g.table[templateKey{anyPhase, req.Action}]
	}

	data := g.data(req)
	art := model.Artifact{Kind: Kind(req.Action), Generator: "template"}

	var buf bytes.Buffer
	if c.subject != nil {
		if err := c.subject.Execute(&buf, data); err != nil {
			return model.Artifact{}, eris.Wrap(err, "artifact: render subject")
		}
		art.Subject = buf.String()
		buf.Reset()
	}
	if err := c.body.Execute(&buf, data); err != nil {
		return model.Artifact{}, eris.Wrap(err, "artifact: render body")
	}
	art.Body = strings.TrimSpace(buf.String())
	return art, nil
}

func (g *TemplateGenerator) data(req Request) templateData {
	name := strings.TrimSpace(req.EntityName)
	if name == "" {
		name = "there"
	} else {
		name = g.title.String(name)
	}
	first := name
	if i := strings.IndexByte(name, ' '); i > 0 {
		first = name[:i]
	}

	label := "current"
	if req.Stage.Known() {
		label = strings.ReplaceAll(string(req.Stage), "_", " ")
	}

	return templateData{
		EntityID:   req.EntityID,
		Name:       name,
		First:      first,
		StageLabel: label,
		Percent:    int(req.Probability*100 + 0.5),
		Urgency:    strings.ReplaceAll(req.Urgency, "_", " "),
		Reasons:    req.Reasons,
		Blockers:   req.Blockers,
	}
}
