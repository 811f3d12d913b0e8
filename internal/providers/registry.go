package providers

import "fmt"

// SpecFor returns the Spec for a provider name as used throughout the
// engine's config and credential-resolution surfaces.
func SpecFor(name string) (Spec, error) {
	switch name {
	case "openai":
		return OpenAISpec(), nil
	case "gemini":
		return GeminiSpec(), nil
	case "anthropic":
		return AnthropicSpec(), nil
	case "openrouter":
		return OpenRouterSpec(), nil
	default:
		return Spec{}, fmt.Errorf("unknown provider %q", name)
	}
}

// AlternativeProviders is the fallback table C1 tries when both the
// owner's and caller's keys fail validation for the primary provider,
// preserved verbatim from the original implementation (spec.md §4.1,
// §9 Open Question — ordering of alternative-provider fallback).
var AlternativeProviders = map[string][]string{
	"openai":     {"gemini"},
	"gemini":     {"openai"},
	"anthropic":  {"openai", "gemini"},
	"openrouter": {},
}
