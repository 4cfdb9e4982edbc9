package headhunter

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/spigell/resumekit-rag/internal/corpus"
)

type Vacancy struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Area struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"area,omitempty"`
	Experience struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"experience,omitempty"`
	Employer struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"employer,omitempty"`
	AlternateURL string `json:"alternate_url,omitempty"`
	// Description is HTML.
	Description string `json:"description,omitempty"`
	KeySkills   []struct {
		Name string `json:"name,omitempty"`
	} `json:"key_skills,omitempty"`
	ProfessionalRoles []struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"professional_roles,omitempty"`
	Archived bool `json:"archived,omitempty"`
}

// JobDescription renders the vacancy as plain text for retrieval queries.
func (va *Vacancy) JobDescription() string {
	var b strings.Builder
	b.WriteString(va.Name)
	if va.Employer.Name != "" {
		fmt.Fprintf(&b, " (%s)", va.Employer.Name)
	}
	b.WriteString("\n\n")

	b.WriteString(HTMLToText(va.Description))

	if len(va.KeySkills) > 0 {
		skills := make([]string, 0, len(va.KeySkills))
		for _, s := range va.KeySkills {
			skills = append(skills, s.Name)
		}
		fmt.Fprintf(&b, "\n\nKey skills: %s", strings.Join(skills, ", "))
	}

	return strings.TrimSpace(b.String())
}

// Language guesses the posting language from its script.
func (va *Vacancy) Language() corpus.Language {
	text := va.Name + " " + va.Description
	for _, r := range text {
		if unicode.Is(unicode.Cyrillic, r) {
			return corpus.LanguageRU
		}
	}
	return corpus.LanguageEN
}

var roleKeywords = []struct {
	role     corpus.Role
	keywords []string
}{
	{corpus.RoleFullstack, []string{"fullstack", "full-stack", "full stack", "фулстек", "фуллстек"}},
	{corpus.RoleGPTEngineer, []string{"gpt", "llm", "prompt", "генеративн"}},
	{corpus.RoleBackend, []string{"backend", "back-end", "back end", "бэкенд", "бекенд", "golang", "go developer"}},
}

// Role guesses the role from the vacancy title. Unknown titles are general.
func (va *Vacancy) Role() corpus.Role {
	name := strings.ToLower(va.Name)
	for _, rk := range roleKeywords {
		for _, kw := range rk.keywords {
			if strings.Contains(name, kw) {
				return rk.role
			}
		}
	}
	return corpus.RoleGeneral
}

// HTMLToText flattens an HTML fragment, keeping paragraph and list breaks.
func HTMLToText(fragment string) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style:
				return
			case atom.Li:
				b.WriteString("\n- ")
			case atom.Br:
				b.WriteString("\n")
			}
		}

		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}

		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.P, atom.Div, atom.Ul, atom.Ol, atom.H1, atom.H2, atom.H3, atom.H4:
				b.WriteString("\n\n")
			}
		}
	}
	walk(doc)

	return normalizeSpace(b.String())
}

// normalizeSpace collapses runs of spaces and keeps at most one blank line.
func normalizeSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}
