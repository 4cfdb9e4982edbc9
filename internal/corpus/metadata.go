package corpus

import (
	"fmt"
	"strings"
)

// General is the wildcard value shared by every metadata dimension.
const General = "general"

type Language string

const (
	LanguageRU      Language = "ru"
	LanguageEN      Language = "en"
	LanguageGeneral Language = General
)

type Market string

const (
	MarketRU      Market = "ru"
	MarketUS      Market = "us"
	MarketUK      Market = "uk"
	MarketGeneral Market = General
)

type Industry string

const (
	IndustryTech    Industry = "tech"
	IndustryFinance Industry = "finance"
	IndustryGeneral Industry = General
)

type Role string

const (
	RoleBackend     Role = "backend"
	RoleFullstack   Role = "fullstack"
	RoleGPTEngineer Role = "gpt_engineer"
	RoleGeneral     Role = General
)

type Category string

const (
	CategoryGuidelines Category = "guidelines"
	CategoryATS        Category = "ats"
	CategoryFormatting Category = "formatting"
	CategoryExamples   Category = "examples"
	CategoryGeneral    Category = General
)

var (
	languages  = []Language{LanguageRU, LanguageEN, LanguageGeneral}
	markets    = []Market{MarketRU, MarketUS, MarketUK, MarketGeneral}
	industries = []Industry{IndustryTech, IndustryFinance, IndustryGeneral}
	roles      = []Role{RoleBackend, RoleFullstack, RoleGPTEngineer, RoleGeneral}
	categories = []Category{CategoryGuidelines, CategoryATS, CategoryFormatting, CategoryExamples, CategoryGeneral}
)

// DefaultCategoryPriority is the degraded-mode ranking order, most preferred first.
var DefaultCategoryPriority = []Category{
	CategoryGuidelines,
	CategoryATS,
	CategoryFormatting,
	CategoryExamples,
	CategoryGeneral,
}

// Metadata holds the structured attributes derived from a document identifier.
// Chunks carry an exact copy of their document's metadata.
type Metadata struct {
	Language Language `json:"language"`
	Market   Market   `json:"market"`
	Industry Industry `json:"industry"`
	Role     Role     `json:"role"`
	Category Category `json:"category"`
}

// GeneralMetadata returns metadata with every dimension set to the wildcard.
func GeneralMetadata() Metadata {
	return Metadata{
		Language: LanguageGeneral,
		Market:   MarketGeneral,
		Industry: IndustryGeneral,
		Role:     RoleGeneral,
		Category: CategoryGeneral,
	}
}

func parseEnum[T ~string](kind, raw string, allowed []T) (T, error) {
	value := T(strings.ToLower(strings.TrimSpace(raw)))
	for _, candidate := range allowed {
		if candidate == value {
			return candidate, nil
		}
	}

	var zero T
	return zero, fmt.Errorf("unknown %s %q", kind, raw)
}

func ParseLanguage(s string) (Language, error) { return parseEnum("language", s, languages) }

func ParseMarket(s string) (Market, error) { return parseEnum("market", s, markets) }

func ParseIndustry(s string) (Industry, error) { return parseEnum("industry", s, industries) }

func ParseRole(s string) (Role, error) { return parseEnum("role", s, roles) }

func ParseCategory(s string) (Category, error) { return parseEnum("category", s, categories) }

// Languages returns the selectable query languages.
func Languages() []Language { return []Language{LanguageRU, LanguageEN} }

// Roles returns the selectable query roles.
func Roles() []Role { return []Role{RoleBackend, RoleFullstack, RoleGPTEngineer} }

func (l *Language) UnmarshalText(text []byte) error {
	v, err := ParseLanguage(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

func (m *Market) UnmarshalText(text []byte) error {
	v, err := ParseMarket(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (i *Industry) UnmarshalText(text []byte) error {
	v, err := ParseIndustry(string(text))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

func (r *Role) UnmarshalText(text []byte) error {
	v, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (c *Category) UnmarshalText(text []byte) error {
	v, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// IsGeneral reports whether the value is the wildcard.
func (l Language) IsGeneral() bool { return l == LanguageGeneral || l == "" }

func (r Role) IsGeneral() bool { return r == RoleGeneral || r == "" }
