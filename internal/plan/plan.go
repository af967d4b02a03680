package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"storyloom/internal/llm"
	"storyloom/internal/structure"
)

// Package plan turns a user prompt into a structure plan: a tree skeleton
// plus one writing task per section. A malformed plan is terminal for the
// attempt; nothing is partially applied.

var ErrMalformedPlan = errors.New("plan: malformed plan from model")

// Error marks a failed planning attempt. The caller may retry with a
// repaired prompt; the failed plan is never trusted.
type Error struct {
	Stage string // "generate" or "validate"
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("plan: %s: %v", e.Stage, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Task is one unit of delegated writing work.
type Task struct {
	SectionID string `json:"sectionId"`
	Prompt    string `json:"prompt"`
	// DependsOnSiblingOrder forces the task to run after its earlier
	// siblings have completed (continuations, cliffhanger resolutions).
	DependsOnSiblingOrder bool `json:"dependsOnSiblingOrder,omitempty"`
}

// Plan is the validated output of one planning call.
type Plan struct {
	Items []structure.Item `json:"items"`
	Tasks []Task           `json:"tasks"`
}

// Request carries the user's ask into the planning call.
type Request struct {
	Prompt   string
	Format   string // novel, screenplay, report, ...
	Template string // optional structural template pasted into the prompt
}

// Step performs the single planning call.
type Step struct {
	gen       llm.Generator
	maxTokens int
}

func NewStep(gen llm.Generator, maxTokens int) *Step {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Step{gen: gen, maxTokens: maxTokens}
}

type rawPlan struct {
	Sections []rawSection `json:"sections"`
	Tasks    []Task       `json:"tasks"`
}

type rawSection struct {
	ID              string `json:"id"`
	Level           int    `json:"level"`
	Order           int    `json:"order"`
	ParentID        string `json:"parentId"`
	Name            string `json:"name"`
	Summary         string `json:"summary"`
	WordCountBudget int    `json:"wordCountBudget"`
}

// Build invokes the generation backend once and validates the structured
// plan it returns. Any parse or validation failure is a *Error and the
// whole plan is discarded.
func (s *Step) Build(ctx context.Context, req Request) (Plan, error) {
	ctx = llm.WithPhase(ctx, "planning")
	raw, err := s.gen.GenerateJSON(ctx, systemPrompt(req.Format), userPrompt(req), s.maxTokens)
	if err != nil {
		return Plan{}, &Error{Stage: "generate", Err: err}
	}
	var rp rawPlan
	if err := json.Unmarshal(raw, &rp); err != nil {
		return Plan{}, &Error{Stage: "validate", Err: fmt.Errorf("%w: %v", ErrMalformedPlan, err)}
	}
	p, err := validate(rp)
	if err != nil {
		return Plan{}, &Error{Stage: "validate", Err: err}
	}
	return p, nil
}

// validate enforces: non-empty unique ids, parents referenced before use,
// levels consistent with depth, at least one section, and every task
// pointing at a planned section. Order is normalized per sibling group.
func validate(rp rawPlan) (Plan, error) {
	if len(rp.Sections) == 0 {
		return Plan{}, fmt.Errorf("%w: no sections", ErrMalformedPlan)
	}
	seen := make(map[string]rawSection, len(rp.Sections))
	var items []structure.Item
	orderWithin := map[string]int{}
	for i, sec := range rp.Sections {
		id := strings.TrimSpace(sec.ID)
		if id == "" {
			return Plan{}, fmt.Errorf("%w: section %d has empty id", ErrMalformedPlan, i)
		}
		if _, dup := seen[id]; dup {
			return Plan{}, fmt.Errorf("%w: duplicate id %q", ErrMalformedPlan, id)
		}
		parent := strings.TrimSpace(sec.ParentID)
		level := 1
		if parent != "" {
			p, ok := seen[parent]
			if !ok {
				return Plan{}, fmt.Errorf("%w: section %q references parent %q before it appears", ErrMalformedPlan, id, parent)
			}
			level = p.Level + 1
		}
		if sec.Level != 0 && sec.Level != level {
			return Plan{}, fmt.Errorf("%w: section %q level %d, expected %d", ErrMalformedPlan, id, sec.Level, level)
		}
		sec.Level = level
		seen[id] = sec
		items = append(items, structure.Item{
			ID:              id,
			Level:           level,
			Order:           orderWithin[parent],
			ParentID:        parent,
			Name:            strings.TrimSpace(sec.Name),
			Summary:         strings.TrimSpace(sec.Summary),
			WordCountBudget: sec.WordCountBudget,
		})
		orderWithin[parent]++
	}
	var tasks []Task
	for _, task := range rp.Tasks {
		sid := strings.TrimSpace(task.SectionID)
		if _, ok := seen[sid]; !ok {
			return Plan{}, fmt.Errorf("%w: task targets unknown section %q", ErrMalformedPlan, task.SectionID)
		}
		task.SectionID = sid
		tasks = append(tasks, task)
	}
	return Plan{Items: items, Tasks: tasks}, nil
}

func systemPrompt(format string) string {
	format = strings.TrimSpace(strings.ToLower(format))
	if format == "" {
		format = "novel"
	}
	var sb strings.Builder
	sb.WriteString("[PURPOSE]\n")
	sb.WriteString("Design the structural skeleton of a ")
	sb.WriteString(format)
	sb.WriteString(" and the per-section writing tasks.\n\n")
	sb.WriteString("[OUTPUT_FORMAT]\n")
	sb.WriteString(`Respond with JSON only:
{
  "sections": [{"id": "string", "level": 1, "order": 0, "parentId": "", "name": "string", "summary": "string", "wordCountBudget": 0}],
  "tasks": [{"sectionId": "string", "prompt": "string", "dependsOnSiblingOrder": false}]
}

[RULES]
- Every parentId must reference a section that appears earlier in the list.
- A child's level is exactly its parent's level + 1; top-level sections use level 1 and empty parentId.
- Emit one task per leaf section that should receive prose.
- wordCountBudget is the target length in words.
`)
	switch format {
	case "screenplay":
		sb.WriteString("- Use acts at level 1, sequences at level 2, scenes at level 3.\n")
	case "report":
		sb.WriteString("- Use chapters at level 1 and sections at level 2.\n")
	default:
		sb.WriteString("- Use acts or parts at level 1, chapters at level 2, scenes or beats at level 3 where useful.\n")
	}
	return sb.String()
}

func userPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("[REQUEST]\n")
	sb.WriteString(strings.TrimSpace(req.Prompt))
	if t := strings.TrimSpace(req.Template); t != "" {
		sb.WriteString("\n\n[TEMPLATE]\n")
		sb.WriteString(t)
	}
	return sb.String()
}
