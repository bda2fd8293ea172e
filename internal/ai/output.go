package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/nhle/notifyhub/internal/model"
)

// Kind is a request kind. It is part of every cache key.
type Kind string

const (
	KindAnalyze  Kind = "analyze"
	KindGenerate Kind = "generate"
	KindSearch   Kind = "search"
)

// Analysis is the structured verdict of an analyze request.
type Analysis struct {
	RequiresAction   bool           `json:"requiresAction"`
	Priority         model.Priority `json:"priority"`
	Summary          string         `json:"summary"`
	SuggestedActions []string       `json:"suggestedActions"`
}

// SearchResult is one hit of a search request.
type SearchResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

var analysisSchema = map[string]any{
	"type":     "object",
	"required": []any{"requiresAction", "priority", "summary", "suggestedActions"},
	"properties": map[string]any{
		"requiresAction": map[string]any{"type": "boolean"},
		"priority": map[string]any{
			"type": "string",
			"enum": []any{"Critical", "High", "Medium", "Low"},
		},
		"summary": map[string]any{"type": "string", "pattern": `\S`},
		"suggestedActions": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
}

var searchSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type":     "object",
		"required": []any{"title", "url"},
		"properties": map[string]any{
			"title":       map[string]any{"type": "string", "minLength": 1},
			"description": map[string]any{"type": "string"},
			"url":         map[string]any{"type": "string", "minLength": 1},
		},
	},
}

const analyzeSystemPrompt = `You triage notifications for a busy professional.
Reply with a single JSON object and nothing else, shaped as:
{"requiresAction": boolean, "priority": "High" | "Medium" | "Low", "summary": string, "suggestedActions": [string]}
The summary is one or two sentences. suggestedActions may be empty.`

const generateSystemPrompt = `You draft concise, professional replies to notifications.
Reply with the response text only.`

const searchSystemPrompt = `You suggest resources relevant to a query.
Reply with a JSON array and nothing else, each element shaped as:
{"title": string, "description": string, "url": string}`

func promptFor(kind Kind, content string) Prompt {
	switch kind {
	case KindAnalyze:
		return Prompt{System: analyzeSystemPrompt, User: content, JSON: true}
	case KindSearch:
		return Prompt{System: searchSystemPrompt, User: content}
	}
	return Prompt{System: generateSystemPrompt, User: content}
}

// parseAnalysis accepts only a complete verdict. Critical is folded into
// High; anything that fails the schema is rejected rather than defaulted.
func parseAnalysis(text string) (Analysis, error) {
	var doc any
	if err := json.Unmarshal([]byte(extractJSON(text, '{', '}')), &doc); err != nil {
		return Analysis{}, fmt.Errorf("analysis is not JSON: %w", err)
	}
	if obj, ok := doc.(map[string]any); ok {
		if p, ok := obj["priority"].(string); ok {
			obj["priority"] = canonicalPriority(p)
		}
	}
	if err := validateAgainst(analysisSchema, doc); err != nil {
		return Analysis{}, fmt.Errorf("invalid analysis: %w", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return Analysis{}, fmt.Errorf("re-encoding analysis: %w", err)
	}
	var out Analysis
	if err := json.Unmarshal(raw, &out); err != nil {
		return Analysis{}, fmt.Errorf("decoding analysis: %w", err)
	}
	if out.Priority == model.PriorityCritical {
		out.Priority = model.PriorityHigh
	}
	if out.SuggestedActions == nil {
		out.SuggestedActions = []string{}
	}
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Summary == "" {
		return Analysis{}, errors.New("invalid analysis: blank summary")
	}
	return out, nil
}

func parseSearch(text string) ([]SearchResult, error) {
	var doc any
	if err := json.Unmarshal([]byte(extractJSON(text, '[', ']')), &doc); err != nil {
		return nil, fmt.Errorf("search results are not JSON: %w", err)
	}
	if err := validateAgainst(searchSchema, doc); err != nil {
		return nil, fmt.Errorf("invalid search results: %w", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-encoding search results: %w", err)
	}
	out := []SearchResult{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}
	return out, nil
}

func parseGeneration(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty generation")
	}
	return text, nil
}

func validateAgainst(schema map[string]any, doc any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}

// extractJSON trims prose and code fences around the outermost value of
// text delimited by first and last.
func extractJSON(text string, first, last byte) string {
	start := strings.IndexByte(text, first)
	end := strings.LastIndexByte(text, last)
	if start < 0 || end < start {
		return strings.TrimSpace(text)
	}
	return text[start : end+1]
}

func canonicalPriority(p string) string {
	for _, known := range []model.Priority{
		model.PriorityCritical, model.PriorityHigh, model.PriorityMedium, model.PriorityLow,
	} {
		if strings.EqualFold(strings.TrimSpace(p), string(known)) {
			return string(known)
		}
	}
	return p
}
