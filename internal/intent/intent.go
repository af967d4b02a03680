package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"storyloom/internal/llm"
)

// Package intent routes a free-form user message to an engine operation.
// A regex fast path classifies common requests without an LLM call; the
// deep analyzer handles the rest.

type Kind string

const (
	KindWriteContent    Kind = "write_content"
	KindImproveContent  Kind = "improve_content"
	KindDeleteSection   Kind = "delete_section"
	KindModifyStructure Kind = "modify_structure"
	KindCreateStructure Kind = "create_structure"
	KindNavigate        Kind = "navigate"
	KindAnswer          Kind = "answer"
	KindGeneralChat     Kind = "general_chat"
)

// Analysis is the classification result.
type Analysis struct {
	Intent             Kind    `json:"intent"`
	Confidence         float64 `json:"confidence"`
	Reasoning          string  `json:"reasoning,omitempty"`
	NeedsClarification bool    `json:"needsClarification,omitempty"`
	ClarifyingQuestion string  `json:"clarifyingQuestion,omitempty"`
}

// Context is what the caller knows about the editing surface.
type Context struct {
	ActiveSectionID   string
	DocumentOpen      bool
	DocumentFormat    string
	HasStructureItems bool
}

var simplePatterns = []struct {
	kind     Kind
	patterns []*regexp.Regexp
	// needsSection requires an active section for the match to hold.
	needsSection bool
}{
	{KindNavigate, compile(`(?i)go to|jump to|navigate to|take me to|show me|find the`), false},
	{KindDeleteSection, compile(`(?i)\b(delete|remove|discard|trash|get rid of)\b`), true},
	{KindImproveContent, compile(`(?i)\b(improve|enhance|refine|polish|make (it )?better|fix)\b`), true},
	{KindWriteContent, compile(`(?i)\b(write|expand|continue|generate|create content|fill in|draft)\b`), true},
	{KindModifyStructure, compile(
		`(?i)(add|insert|move|reorder|reorganize|restructure)`,
		`(?i)(new|another) (chapter|scene|act|section|part)`), false},
	{KindAnswer, compile(`(?i)^(what|who|where|when|why|how|can you|could you|tell me|explain)\b`, `\?$`), false},
}

// structurePatterns only apply while no document is open.
var structurePatterns = compile(
	`(?i)\b(create|start|begin|make|build|write)\b.*(novel|story|book|screenplay|script|report)`,
	`(?i)\b(novel|story|book|screenplay|script|report)\b.*(about|on|regarding)`,
	`(?i)^(a |the )?(new )?(novel|story|book|screenplay|script|report)`)

// complexPatterns mark messages that need the deep analyzer even when a
// simple pattern matches.
var complexPatterns = compile(
	`(?i)(like|similar to|based on|inspired by)`,
	`(?i)(but|however|although|except)`)

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

func matchAny(patterns []*regexp.Regexp, msg string) bool {
	for _, p := range patterns {
		if p.MatchString(msg) {
			return true
		}
	}
	return false
}

// Classify is the regex fast path. It returns ok=false when the message
// needs the deep analyzer.
func Classify(message string, c Context) (Analysis, bool) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return Analysis{}, false
	}
	if matchAny(complexPatterns, msg) {
		return Analysis{}, false
	}
	if !c.DocumentOpen && matchAny(structurePatterns, msg) {
		return Analysis{Intent: KindCreateStructure, Confidence: 0.9, Reasoning: "structure-creation pattern"}, true
	}
	for _, sp := range simplePatterns {
		if sp.needsSection && c.ActiveSectionID == "" {
			continue
		}
		if matchAny(sp.patterns, msg) {
			return Analysis{Intent: sp.kind, Confidence: 0.85, Reasoning: "pattern match"}, true
		}
	}
	return Analysis{}, false
}

// Analyzer is the LLM slow path.
type Analyzer struct {
	gen llm.Generator
}

func NewAnalyzer(gen llm.Generator) *Analyzer {
	return &Analyzer{gen: gen}
}

const analyzerSystemPrompt = `Classify the user's request for a structured-document co-authoring tool.
Respond with JSON only:
{"intent":"write_content|improve_content|delete_section|modify_structure|create_structure|navigate|answer|general_chat",
 "confidence":0.0,"reasoning":"...","needsClarification":false,"clarifyingQuestion":""}`

// Analyze runs the fast path first and falls back to one LLM call.
func (a *Analyzer) Analyze(ctx context.Context, message string, c Context) (Analysis, error) {
	if res, ok := Classify(message, c); ok {
		return res, nil
	}
	ctx = llm.WithPhase(ctx, "intent")
	user := fmt.Sprintf("[MESSAGE]\n%s\n\n[STATE]\ndocument_open=%t active_section=%q format=%q",
		message, c.DocumentOpen, c.ActiveSectionID, c.DocumentFormat)
	raw, err := a.gen.GenerateJSON(ctx, analyzerSystemPrompt, user, 512)
	if err != nil {
		return Analysis{}, fmt.Errorf("intent: %w", err)
	}
	var res Analysis
	if err := json.Unmarshal(raw, &res); err != nil {
		return Analysis{}, fmt.Errorf("intent: %w: %v", llm.ErrInvalidJSON, err)
	}
	if res.Intent == "" {
		res.Intent = KindGeneralChat
	}
	return res, nil
}
