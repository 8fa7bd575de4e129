package prompt

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

var (
	//go:embed template/router.txt
	routerRaw string

	//go:embed template/support.txt
	supportRaw string

	//go:embed template/order.txt
	orderRaw string

	//go:embed template/billing.txt
	billingRaw string

	//go:embed template/guardrails.txt
	guardrailsRaw string

	//go:embed template/catalog.yaml
	catalogRaw []byte
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Router     string
	Support    string
	Order      string
	Billing    string
	Guardrails string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Router:     strings.TrimSpace(routerRaw),
		Support:    strings.TrimSpace(supportRaw),
		Order:      strings.TrimSpace(orderRaw),
		Billing:    strings.TrimSpace(billingRaw),
		Guardrails: strings.TrimSpace(guardrailsRaw),
	}
}

// For returns the system prompt of a handler type.
func (p PromptSet) For(t contractx.HandlerType) (string, error) {
	var out string
	switch t {
	case contractx.HandlerRouter:
		out = p.Router
	case contractx.HandlerSupport:
		out = p.Support
	case contractx.HandlerOrder:
		out = p.Order
	case contractx.HandlerBilling:
		out = p.Billing
	}
	if out == "" {
		return "", fmt.Errorf("%w: handler=%s", contractx.ErrPromptMissing, t)
	}
	return out, nil
}

type ReasoningRule struct {
	All  []string `yaml:"all"`
	Text string   `yaml:"text"`

	patterns []*regexp.Regexp
}

func (r ReasoningRule) matches(query string) bool {
	for _, re := range r.patterns {
		if !re.MatchString(query) {
			return false
		}
	}
	return len(r.patterns) > 0
}

type Reasoning struct {
	Default string          `yaml:"default"`
	Rules   []ReasoningRule `yaml:"rules"`
}

// Explain returns the text of the first matching rule, or the default.
func (r Reasoning) Explain(query string) string {
	for _, rule := range r.Rules {
		if rule.matches(query) {
			return rule.Text
		}
	}
	return r.Default
}

type HandlerEntry struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Keywords    []string  `yaml:"keywords"`
	Reasoning   Reasoning `yaml:"reasoning"`
}

type Catalog struct {
	Handlers map[contractx.HandlerType]HandlerEntry `yaml:"handlers"`
}

// Entry returns the catalog entry for t.
func (c Catalog) Entry(t contractx.HandlerType) (HandlerEntry, bool) {
	e, ok := c.Handlers[t]
	return e, ok
}

// LoadCatalog parses the embedded handler catalog and compiles its patterns.
func LoadCatalog() (Catalog, error) {
	return ParseCatalog(catalogRaw)
}

func ParseCatalog(raw []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("%w: parse handler catalog: %v", contractx.ErrValidation, err)
	}

	for t, entry := range c.Handlers {
		if strings.TrimSpace(entry.Name) == "" {
			return Catalog{}, fmt.Errorf("%w: handler %s has no name", contractx.ErrValidation, t)
		}
		for i := range entry.Reasoning.Rules {
			rule := &entry.Reasoning.Rules[i]
			for _, expr := range rule.All {
				re, err := regexp.Compile(expr)
				if err != nil {
					return Catalog{}, fmt.Errorf("%w: handler %s rule %d: %v", contractx.ErrValidation, t, i, err)
				}
				rule.patterns = append(rule.patterns, re)
			}
		}
		c.Handlers[t] = entry
	}
	return c, nil
}

func MustLoadCatalog() Catalog {
	c, err := LoadCatalog()
	if err != nil {
		panic(err)
	}
	return c
}
