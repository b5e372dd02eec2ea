package script

import (
	"encoding/json"
	"fmt"
	"strings"

	"server/internal/domain"
)

// Script is the parsed shot script.
type Script struct {
	Title      string      `json:"title"`
	Characters []Character `json:"characters"`
	Scenes     []Scene     `json:"scenes"`
}

type Character struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

type Scene struct {
	ImagePrompt  string `json:"imagePrompt"`
	VideoPrompt  string `json:"videoPrompt"`
	DurationSecs int    `json:"durationSecs"`
}

// Parse decodes the raw script reply. Structural problems are fatal to the
// parsing stage and wrap ErrMalformedScript so the orchestrator can tell them
// apart from transient provider errors.
func Parse(raw string) (*Script, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty script", domain.ErrMalformedScript)
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.DisallowUnknownFields()
	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedScript, err)
	}
	if len(s.Scenes) == 0 {
		return nil, fmt.Errorf("%w: no scenes", domain.ErrMalformedScript)
	}
	for i, sc := range s.Scenes {
		if strings.TrimSpace(sc.ImagePrompt) == "" {
			return nil, fmt.Errorf("%w: scene %d has no image prompt", domain.ErrMalformedScript, i+1)
		}
		if strings.TrimSpace(sc.VideoPrompt) == "" {
			return nil, fmt.Errorf("%w: scene %d has no video prompt", domain.ErrMalformedScript, i+1)
		}
	}
	for i, c := range s.Characters {
		if strings.TrimSpace(c.Prompt) == "" {
			return nil, fmt.Errorf("%w: character %d has no prompt", domain.ErrMalformedScript, i+1)
		}
	}
	return &s, nil
}

// stripFences removes a markdown code fence the model sometimes wraps the
// JSON in, despite the response mime type.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
