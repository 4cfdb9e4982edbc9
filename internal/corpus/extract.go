package corpus

import (
	"strings"
	"unicode"
)

type keywordRule[T ~string] struct {
	value    T
	keywords []string
}

// Rules are evaluated in order and the first rule with a matching keyword wins.
// Keywords are matched against whole tokens, so "russian" never matches "us".
var (
	languageRules = []keywordRule[Language]{
		{LanguageRU, []string{"russian", "ru"}},
		{LanguageEN, []string{"english", "en", "us", "usa", "uk"}},
	}
	marketRules = []keywordRule[Market]{
		{MarketRU, []string{"russian", "ru"}},
		{MarketUS, []string{"us", "usa"}},
		{MarketUK, []string{"uk"}},
	}
	industryRules = []keywordRule[Industry]{
		{IndustryFinance, []string{"finance", "fintech", "banking"}},
		{IndustryTech, []string{"tech", "backend", "fullstack", "gpt", "engineer", "llm"}},
	}
	roleRules = []keywordRule[Role]{
		{RoleBackend, []string{"backend"}},
		{RoleFullstack, []string{"fullstack"}},
		{RoleGPTEngineer, []string{"gpt", "engineer", "llm"}},
	}
	categoryRules = []keywordRule[Category]{
		{CategoryGuidelines, []string{"guidelines", "best practices"}},
		{CategoryATS, []string{"ats"}},
		{CategoryFormatting, []string{"formatting"}},
		{CategoryExamples, []string{"examples", "example"}},
	}
)

// ExtractMetadata derives document metadata from its identifier (usually the
// file name). A dimension without a matching keyword is set to general.
func ExtractMetadata(identifier string) Metadata {
	tokens := tokenize(identifier)

	return Metadata{
		Language: match(tokens, languageRules, LanguageGeneral),
		Market:   match(tokens, marketRules, MarketGeneral),
		Industry: match(tokens, industryRules, IndustryGeneral),
		Role:     match(tokens, roleRules, RoleGeneral),
		Category: match(tokens, categoryRules, CategoryGeneral),
	}
}

func match[T ~string](tokens []string, rules []keywordRule[T], fallback T) T {
	for _, rule := range rules {
		for _, keyword := range rule.keywords {
			if containsPhrase(tokens, strings.Fields(keyword)) {
				return rule.value
			}
		}
	}
	return fallback
}

// containsPhrase reports whether phrase occurs as consecutive tokens.
func containsPhrase(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}

	for i := 0; i+len(phrase) <= len(tokens); i++ {
		found := true
		for j, word := range phrase {
			if tokens[i+j] != word {
				found = false
				break
			}
		}
		if found {
			return true
		}
	}
	return false
}

func tokenize(identifier string) []string {
	return strings.FieldsFunc(strings.ToLower(identifier), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
