package schemas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Generator drafts an extraction schema for a custom document category that
// has no registered schema. Used when an operator reclassifies a document to
// a type the registry does not know and the remote service's schema endpoint
// is unavailable.

const generatorSystemPrompt = "You are a document data architect for real-estate transaction processing. Respond with strict JSON only."

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

type Generator struct {
	messages AnthropicMessager
}

func NewGeneratorFromEnv() (*Generator, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	return &Generator{messages: newAnthropicClient(apiKey)}, nil
}

const generatePromptTemplate = `Draft an extraction schema for a real-estate transaction document category.

Category: %s

Sample text from one such document:
---
%s
---

Return JSON of the form:
{"category":"string","fields":[{"name":"snake_case_string","type":"string|number|boolean","description":"string","critical":true|false}]}

Rules:
- 4 to 12 fields.
- Mark a field critical only if a closing workflow cannot proceed without it.
- Field names are snake_case and unique.`

// Generate asks the model for a field list and validates the answer before
// returning it. The caller decides whether to register the result.
func (g *Generator) Generate(ctx context.Context, category, sampleText string) (Schema, error) {
	if strings.TrimSpace(category) == "" {
		return Schema{}, errors.New("category is required")
	}
	if len(sampleText) > 20000 {
		sampleText = sampleText[:20000]
	}
	prompt := fmt.Sprintf(generatePromptTemplate, category, sampleText)

	resp, err := g.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.ModelClaudeSonnet4_20250514,
		MaxTokens:   2048,
		System:      []anthropic.TextBlockParam{{Text: generatorSystemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return Schema{}, fmt.Errorf("schema generation: %w", err)
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}

	var schema Schema
	if err := json.Unmarshal([]byte(stripCodeFences(sb.String())), &schema); err != nil {
		return Schema{}, fmt.Errorf("schema generation returned invalid JSON: %w", err)
	}
	schema.Category = category
	if err := validateGenerated(schema); err != nil {
		return Schema{}, err
	}
	return schema, nil
}

func validateGenerated(s Schema) error {
	if len(s.Fields) < 1 {
		return errors.New("generated schema has no fields")
	}
	seen := map[string]bool{}
	for _, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return errors.New("generated schema has an unnamed field")
		}
		if seen[f.Name] {
			return fmt.Errorf("generated schema duplicates field %q", f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case "", "string", "number", "boolean":
		default:
			return fmt.Errorf("generated schema field %q has unsupported type %q", f.Name, f.Type)
		}
	}
	return nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}
