package recognition

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ProductNameKey is the field holding a candidate name in a reply item
const ProductNameKey = "Product Name"

var errNoJSONObject = errors.New("no JSON object in reply")

// replySchema accepts {"products":[{...}, ...]}; items and the top level may
// carry extra keys.
const replySchema = `{
  "type": "object",
  "required": ["products"],
  "properties": {
    "products": {
      "type": "array",
      "items": {"type": "object"}
    }
  }
}`

// ReplyParser validates engine replies and extracts candidate names
type ReplyParser struct {
	schema *jsonschema.Schema
}

// NewReplyParser compiles the reply schema
func NewReplyParser() (*ReplyParser, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("reply.json", strings.NewReader(replySchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("reply.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &ReplyParser{schema: schema}, nil
}

// Parse returns the candidate names found in reply. Items without a string
// "Product Name" are skipped; a reply that does not match the schema is an error.
func (p *ReplyParser) Parse(reply string) ([]string, error) {
	text, err := StripFences(reply)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if err := p.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("reply does not match schema: %w", err)
	}

	items := doc.(map[string]any)["products"].([]any)
	candidates := make([]string, 0, len(items))
	for _, item := range items {
		name, ok := item.(map[string]any)[ProductNameKey].(string)
		if !ok {
			continue
		}
		candidates = append(candidates, name)
	}
	return candidates, nil
}

// StripFences removes markdown code fences around a JSON reply and any prose
// outside the outermost braces.
func StripFences(reply string) (string, error) {
	text := strings.ReplaceAll(reply, "```json", "")
	text = strings.ReplaceAll(text, "```JSON", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", errNoJSONObject
	}
	return text[start : end+1], nil
}
