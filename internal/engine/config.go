package engine

import (
	"fmt"

	"github.com/ChamsBouzaiene/dyno/internal/prompts"
)

const (
	VariantBuild = "build"
	VariantAsk   = "ask"

	DefaultBuildMaxIterations = 50
	DefaultAskMaxIterations   = 10
)

// Variant describes one agent flavour: its action set, ceiling and prompt.
type Variant struct {
	Name          string
	MaxIterations int
	Allowed       []ActionKind
	TrackTodos    bool // forward the todo list to the planner
	PromptID      string
}

// BuildVariant is the read-write agent.
func BuildVariant() Variant {
	return Variant{
		Name:          VariantBuild,
		MaxIterations: DefaultBuildMaxIterations,
		Allowed:       ActionKinds(),
		TrackTodos:    true,
		PromptID:      prompts.BuildVariant,
	}
}

// AskVariant is the read-only agent.
func AskVariant() Variant {
	return Variant{
		Name:          VariantAsk,
		MaxIterations: DefaultAskMaxIterations,
		Allowed:       []ActionKind{KindListFiles, KindReadFile, KindReadFiles, KindReplyToUser},
		PromptID:      prompts.AskVariant,
	}
}

// VariantByName resolves "build" or "ask".
func VariantByName(name string) (Variant, error) {
	switch name {
	case VariantBuild, "":
		return BuildVariant(), nil
	case VariantAsk:
		return AskVariant(), nil
	default:
		return Variant{}, fmt.Errorf("unknown agent variant %q", name)
	}
}

// Allows reports whether kind is part of the variant's action set.
func (v Variant) Allows(kind ActionKind) bool {
	return containsKind(v.Allowed, kind)
}
