package engine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ToolSpec is what a planner adapter advertises to the model for one action.
type ToolSpec struct {
	Kind        ActionKind
	Description string
	SchemaJSON  string
}

var toolSpecs = map[ActionKind]ToolSpec{
	KindListFiles: {
		Kind:        KindListFiles,
		Description: "List the entries of one directory in the project. Directories are suffixed with '/'.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"directoryPath": {"type": "string", "description": "Directory relative to the project root; '.' for the root."}
			},
			"required": ["directoryPath"],
			"additionalProperties": false
		}`,
	},
	KindReadFile: {
		Kind:        KindReadFile,
		Description: "Read the full text of one file.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"filePath": {"type": "string", "minLength": 1}
			},
			"required": ["filePath"],
			"additionalProperties": false
		}`,
	},
	KindReadFiles: {
		Kind:        KindReadFiles,
		Description: "Run several read_file or list_files operations in parallel. Results come back in input order.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"tools": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"tool": {"type": "string", "enum": ["read_file", "list_files"]},
							"filePath": {"type": "string"},
							"directoryPath": {"type": "string"}
						},
						"required": ["tool"]
					}
				}
			},
			"required": ["tools"],
			"additionalProperties": false
		}`,
	},
	KindWriteFile: {
		Kind:        KindWriteFile,
		Description: "Create or overwrite a file with the given content. Parent directories are created.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"filePath": {"type": "string", "minLength": 1},
				"content": {"type": "string"}
			},
			"required": ["filePath", "content"],
			"additionalProperties": false
		}`,
	},
	KindEditFile: {
		Kind:        KindEditFile,
		Description: "Replace an exact string in a file. oldString must match exactly once unless replaceAll is true.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"filePath": {"type": "string", "minLength": 1},
				"oldString": {"type": "string", "minLength": 1},
				"newString": {"type": "string"},
				"replaceAll": {"type": "boolean"}
			},
			"required": ["filePath", "oldString", "newString"],
			"additionalProperties": false
		}`,
	},
	KindBash: {
		Kind:        KindBash,
		Description: "Run a shell command in the project directory. Timeout in seconds (default 120, max 600).",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"command": {"type": "string", "minLength": 1},
				"timeout": {"type": "integer", "minimum": 0}
			},
			"required": ["command"],
			"additionalProperties": false
		}`,
	},
	KindTodoWrite: {
		Kind:        KindTodoWrite,
		Description: "Replace the todo list. Keep exactly one item in_progress while work remains.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"todos": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"content": {"type": "string"},
							"activeForm": {"type": "string"},
							"status": {"type": "string"}
						},
						"required": ["content", "activeForm", "status"]
					}
				}
			},
			"required": ["todos"],
			"additionalProperties": false
		}`,
	},
	KindVerifyServer: {
		Kind:        KindVerifyServer,
		Description: "Show the last lines of the dev server log to check for build or runtime errors.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"tailLines": {"type": "integer", "minimum": 0}
			},
			"additionalProperties": false
		}`,
	},
	KindReplyToUser: {
		Kind:        KindReplyToUser,
		Description: "Finish the task and reply to the user. Call this exactly once, when the work is done.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"message": {"type": "string", "minLength": 1}
			},
			"required": ["message"],
			"additionalProperties": false
		}`,
	},
}

var (
	compileOnce     sync.Once
	compiledSchemas map[ActionKind]*gojsonschema.Schema
	compileErr      error
)

func compiledSchema(kind ActionKind) (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchemas = make(map[ActionKind]*gojsonschema.Schema, len(toolSpecs))
		for k, spec := range toolSpecs {
			s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(spec.SchemaJSON))
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", k, err)
				return
			}
			compiledSchemas[k] = s
		}
	})
	if compileErr != nil {
		return nil, compileErr
	}
	s, ok := compiledSchemas[kind]
	if !ok {
		return nil, fmt.Errorf("no schema for action %q", kind)
	}
	return s, nil
}

// Spec returns the tool spec of kind.
func Spec(kind ActionKind) (ToolSpec, bool) {
	s, ok := toolSpecs[kind]
	return s, ok
}

// Specs returns the tool specs for the allowed kinds, in the given order.
func Specs(allowed []ActionKind) []ToolSpec {
	out := make([]ToolSpec, 0, len(allowed))
	for _, k := range allowed {
		if s, ok := toolSpecs[k]; ok {
			out = append(out, s)
		}
	}
	return out
}

// DecodeAction turns a planner tool call into an Action. It rejects unknown
// kinds, kinds outside allowed (nil allows everything) and arguments that do
// not match the kind's schema. Every rejection is a *PlanValidationError.
func DecodeAction(name string, args json.RawMessage, allowed []ActionKind) (Action, error) {
	kind := ActionKind(name)
	if _, ok := toolSpecs[kind]; !ok {
		return nil, &PlanValidationError{Tool: name, Errors: []string{"unknown tool"}}
	}
	if allowed != nil && !containsKind(allowed, kind) {
		return nil, &PlanValidationError{Tool: name, Errors: []string{"tool not available to this agent"}}
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	schema, err := compiledSchema(kind)
	if err != nil {
		return nil, err
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return nil, &PlanValidationError{Tool: name, Errors: []string{err.Error()}, Raw: string(args)}
	}
	if !result.Valid() {
		var errorMsgs []string
		for _, e := range result.Errors() {
			errorMsgs = append(errorMsgs, e.String())
		}
		return nil, &PlanValidationError{Tool: name, Errors: errorMsgs, Raw: string(args)}
	}

	action, err := parseAction(kind, args)
	if err != nil {
		return nil, &PlanValidationError{Tool: name, Errors: []string{err.Error()}, Raw: string(args)}
	}
	return action, nil
}

func containsKind(kinds []ActionKind, k ActionKind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}
