package app

import "strings"

const DefaultPersona = "general"

var personaDirectives = map[string]string{
	"general":       "Give a balanced, plain-language answer that a first-time reader can follow.",
	"tech":          "Focus on the technology, product architecture, defensibility and technical risk.",
	"value":         "Focus on fundamentals: margins, cash flow, unit economics and downside protection.",
	"growth":        "Focus on market size, growth rates, expansion plans and scalability.",
	"esg":           "Focus on environmental, social and governance factors and their material impact.",
	"institutional": "Answer like an institutional analyst: terms, governance, portfolio fit and diligence gaps.",
	"retail":        "Answer for an individual investor: keep it simple, concrete and honest about risk.",
	"risk":          "Focus on what could go wrong: regulatory, competitive, execution and financial risks.",
}

// NormalizePersona lowercases name and maps unknown personas to the default.
func NormalizePersona(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := personaDirectives[name]; ok {
		return name
	}
	return DefaultPersona
}

func personaDirective(name string) string {
	return personaDirectives[NormalizePersona(name)]
}
