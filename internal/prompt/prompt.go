// Package prompt builds the prompts the search extension sends through the
// relay and interprets the model's short answers.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/template"
)

// Scheme selects a classification prompt.
type Scheme string

const (
	// Specificity labels a query vague or specific.
	Specificity Scheme = "specificity"
	// Contexts labels a query by how many readings it admits: low, medium or high.
	Contexts Scheme = "contexts"
)

// Unknown is returned when the model's answer cannot be mapped to a label.
const Unknown = "unknown"

// SearchBase is the search endpoint rewritten queries are sent to.
const SearchBase = "https://www.google.com/search"

var ErrEmptyQuery = errors.New("query is required")

var (
	rewriteTmpl     = template.Must(template.New("rewrite").Parse(rewriteText))
	specificityTmpl = template.Must(template.New("specificity").Parse(specificityText))
	contextsTmpl    = template.Must(template.New("contexts").Parse(contextsText))
)

// ParseScheme maps a request value onto a Scheme. Empty selects Specificity.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", Specificity:
		return Specificity, nil
	case Contexts:
		return Contexts, nil
	default:
		return "", fmt.Errorf("unknown classification scheme %q", s)
	}
}

// Rewrite returns the prompt asking the model to turn query, read in light of
// context, into a self-contained search query.
func Rewrite(query, context string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyQuery
	}
	return render(rewriteTmpl, map[string]string{"Query": query, "Context": context})
}

// Classify returns the classification prompt for query.
func Classify(scheme Scheme, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyQuery
	}
	switch scheme {
	case Specificity:
		return render(specificityTmpl, map[string]string{"Query": query})
	case Contexts:
		return render(contextsTmpl, map[string]string{"Query": query})
	default:
		return "", fmt.Errorf("unknown classification scheme %q", scheme)
	}
}

func render(t *template.Template, data map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Label maps a raw model answer onto the labels of scheme.
func Label(scheme Scheme, raw string) string {
	answer := strings.ToLower(strings.Trim(strings.TrimSpace(raw), `"'.!`))
	word := answer
	if f := strings.Fields(answer); len(f) > 0 {
		word = strings.Trim(f[0], `"'.,:;!`)
	}
	switch scheme {
	case Specificity:
		switch word {
		case "0", "vague":
			return "vague"
		case "1", "specific":
			return "specific"
		}
		// otherwise accept a single unambiguous mention
		vague, specific := strings.Contains(answer, "vague"), strings.Contains(answer, "specific")
		switch {
		case vague && !specific:
			return "vague"
		case specific && !vague:
			return "specific"
		}
	case Contexts:
		switch word {
		case "high", "medium", "low":
			return word
		}
	}
	return Unknown
}

// SearchURL returns the search page URL for a rewritten query.
func SearchURL(query string) string {
	return SearchBase + "?q=" + url.QueryEscape(strings.TrimSpace(query))
}

// CleanQuery strips the wrapping model answers tend to add around a rewritten
// query: surrounding quotes and an "Output Query:" prefix.
func CleanQuery(raw string) string {
	q := strings.TrimSpace(raw)
	if i := strings.Index(strings.ToLower(q), "output query:"); i >= 0 {
		q = strings.TrimSpace(q[i+len("output query:"):])
	}
	return strings.Trim(q, "\"' ")
}

const rewriteText = `Instruction: You are a helpful assistant. This is a query extracted during a web search session. The goal is to review the query, transform it with context and send an output.
Upon receiving a query, you only need to transform it with the help of the context provided. You must not answer the query, do not summarize, and do not provide any additional information. Your task is to transform the query into a holistic search query only.
Example of transformed queries:

    Input Query: What about for endurance athletes?
    Input Context: Nutrition
    Output Query: What nutritional strategies are most effective for endurance athletes?

    Input Query: Which position is hardest?
    Input Context: Hockey
    Output Query: Which position in hockey is considered the most difficult to play and why?

    Input Query: What social factors matter most?
    Input Context: Life Span
    Output Query: What social factors matter most for healthy aging and longevity?

    Input Query: Where is it headed next?
    Input Context: Telehealth
    Output Query: What are the upcoming trends and future developments in telehealth technology?

    Input Query: What are the main causes?
    Input Context: Mental health crisis
    Output Query: What are the primary causes of the current mental health crisis in the US?

Input: Input query: '{{.Query}}', Input context: '{{.Context}}'`

const specificityText = `Instruction: You are a helpful assistant. This is a query extracted during a web search session. The goal is to review the query and send an output.
Upon receiving a query, you only need to classify it as vague or specific. You must not answer the query, do not summarize, and do not provide any additional information. Make sure the output is either: 0 for 'vague' or 1 for 'specific' as is.
Examples of open queries:
* Best chromebook? - vague
* What new treatments are emerging? - vague
* How much is genetic? - vague
* president - vague

Examples of closed queries:
* When was Rhual constructed? - specific
* What is an action verb? - specific
* Which country has topped the swimming medals list in the summer olympics? - specific
* What are the advantages of vitamin C? - specific

Input: "{{.Query}}"`

const contextsText = `Determine the number of different potential contexts a sentence can have and classify the sentence into a high, medium, or low number of potential contexts. High: 10+ potential contexts. Medium: 5-9 potential contexts. Low: 1-4 potential contexts. Answer with the classification only. Classify this: "{{.Query}}"`
