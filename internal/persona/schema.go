package persona

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// definitionSchema is the structural contract for persona.yaml files.
const definitionSchema = `{
  "type": "object",
  "required": ["metadata", "persona", "system_prompt"],
  "properties": {
    "metadata": {
      "type": "object",
      "required": ["id", "name", "version"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "name": {"type": "string", "minLength": 1},
        "version": {"type": "string", "minLength": 1},
        "description": {"type": "string"}
      }
    },
    "persona": {
      "type": "object",
      "required": ["role", "identity"],
      "properties": {
        "role": {"type": "string", "minLength": 1},
        "identity": {"type": "string", "minLength": 1},
        "communication_style": {"type": "string"},
        "principles": {"type": "array", "items": {"type": "string"}}
      }
    },
    "enabled_tools": {"type": "array", "items": {"type": "string"}},
    "knowledge_scope": {"type": "array", "items": {"type": "string"}},
    "llm": {
      "type": "object",
      "properties": {
        "provider": {"type": "string"},
        "model": {"type": "string"},
        "temperature": {"type": "number", "minimum": 0, "maximum": 2},
        "max_tokens": {"type": "integer", "minimum": 0},
        "streaming": {"type": "boolean"}
      }
    },
    "system_prompt": {
      "type": "object",
      "required": ["base"],
      "properties": {
        "base": {"type": "string", "minLength": 1},
        "language_variants": {"type": "object", "additionalProperties": {"type": "string"}},
        "template_vars": {"type": "object"}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("persona.json", strings.NewReader(definitionSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile("persona.json")
	})
	return compiledSchema, schemaErr
}

// validateDefinition checks a decoded persona document against the schema,
// collecting every violation rather than stopping at the first.
func validateDefinition(id string, doc any) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("compile persona schema: %w", err)
	}

	var problems []string
	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			problems = collectLeaves(verr, problems)
		} else {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return &InvalidError{PersonaID: id, Problems: problems}
	}
	return nil
}

func collectLeaves(ve *jsonschema.ValidationError, out []string) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		// The validator reports all absent required properties of one
		// object as a single message. Split them so each missing field
		// shows up as its own problem.
		if rest, ok := strings.CutPrefix(ve.Message, "missing properties: "); ok {
			for _, prop := range strings.Split(rest, ", ") {
				out = append(out, fmt.Sprintf("%s: missing property %s", loc, prop))
			}
			return out
		}
		return append(out, fmt.Sprintf("%s: %s", loc, ve.Message))
	}
	for _, cause := range ve.Causes {
		out = collectLeaves(cause, out)
	}
	return out
}
