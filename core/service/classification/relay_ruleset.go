package classification

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"formrelay/core/domain"
)

var (
	ErrEmptyKeywordGroup = errors.New("keyword group is empty")
	ErrUnknownConcept    = errors.New("unknown concept")
	ErrEmptyTarget       = errors.New("rule target is empty")
)

// Matcher tests normalized text.
type Matcher interface {
	Match(text string) bool
	String() string
}

// prepareKeywords normalizes keywords the same way labels are normalized,
// drops duplicates and orders them longest first so a phrase wins over a
// shorter keyword it contains.
func prepareKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		n := NormalizeForMatching(kw)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func alternation(keywords []string) string {
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = regexp.QuoteMeta(kw)
	}
	return "(?:" + strings.Join(quoted, "|") + ")"
}

// KeywordMatcher matches any keyword as a whole word, case-insensitively.
type KeywordMatcher struct {
	keywords []string
	re       *regexp.Regexp
}

func NewKeywordMatcher(keywords []string) (*KeywordMatcher, error) {
	kws := prepareKeywords(keywords)
	if len(kws) == 0 {
		return nil, ErrEmptyKeywordGroup
	}
	re, err := regexp.Compile(`(?i)\b` + alternation(kws) + `\b`)
	if err != nil {
		return nil, fmt.Errorf("compile keyword matcher: %w", err)
	}
	return &KeywordMatcher{keywords: kws, re: re}, nil
}

func (m *KeywordMatcher) Match(text string) bool {
	return m.re.MatchString(text)
}

// Keywords returns the prepared keyword list.
func (m *KeywordMatcher) Keywords() []string {
	return append([]string(nil), m.keywords...)
}

func (m *KeywordMatcher) String() string {
	return m.re.String()
}

// CompoundMatcher requires a keyword of the first group and, starting where
// that match ends, a keyword of the second group. Neither side needs a word
// boundary, so stems like "zgod" still match.
type CompoundMatcher struct {
	first  *regexp.Regexp
	second *regexp.Regexp
}

func NewCompoundMatcher(first, second []string) (*CompoundMatcher, error) {
	a, b := prepareKeywords(first), prepareKeywords(second)
	if len(a) == 0 || len(b) == 0 {
		return nil, ErrEmptyKeywordGroup
	}
	reA, err := regexp.Compile(`(?i)` + alternation(a))
	if err != nil {
		return nil, fmt.Errorf("compile compound matcher: %w", err)
	}
	reB, err := regexp.Compile(`(?i)` + alternation(b))
	if err != nil {
		return nil, fmt.Errorf("compile compound matcher: %w", err)
	}
	return &CompoundMatcher{first: reA, second: reB}, nil
}

func (m *CompoundMatcher) Match(text string) bool {
	// The leftmost first-group match ends earliest, so it leaves the widest
	// tail for the second group.
	loc := m.first.FindStringIndex(text)
	if loc == nil {
		return false
	}
	return m.second.MatchString(text[loc[1]:])
}

func (m *CompoundMatcher) String() string {
	return m.first.String() + " ... " + m.second.String()
}

// Rule maps a matcher to a canonical target.
type Rule struct {
	Name    string
	Target  string
	Matcher Matcher
}

// Tier is a priority group. Rules inside a tier are tried in order.
type Tier struct {
	Name     string
	Priority int
	Rules    []Rule
}

// Ruleset is an immutable list of tiers ordered by descending priority.
// It is safe for concurrent use.
type Ruleset struct {
	tiers []Tier
}

// NewRuleset orders tiers by priority, highest first. Tiers sharing a
// priority keep their relative order.
func NewRuleset(tiers ...Tier) *Ruleset {
	cp := make([]Tier, len(tiers))
	for i, t := range tiers {
		cp[i] = Tier{Name: t.Name, Priority: t.Priority, Rules: append([]Rule(nil), t.Rules...)}
	}
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Priority > cp[j].Priority })
	return &Ruleset{tiers: cp}
}

// Tiers returns a copy of the ordered tiers.
func (r *Ruleset) Tiers() []Tier {
	out := make([]Tier, len(r.tiers))
	for i, t := range r.tiers {
		out[i] = Tier{Name: t.Name, Priority: t.Priority, Rules: append([]Rule(nil), t.Rules...)}
	}
	return out
}

// Extend returns a new ruleset with extra tiers layered on top. When an extra
// tier shares a priority with an existing one, its rules are tried first.
func (r *Ruleset) Extend(extra ...Tier) *Ruleset {
	merged := r.Tiers()
	for _, t := range extra {
		found := false
		for i := range merged {
			if merged[i].Priority == t.Priority {
				merged[i].Rules = append(append([]Rule(nil), t.Rules...), merged[i].Rules...)
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, t)
		}
	}
	return NewRuleset(merged...)
}

// RuleCount returns the number of rules across all tiers.
func (r *Ruleset) RuleCount() int {
	n := 0
	for _, t := range r.tiers {
		n += len(t.Rules)
	}
	return n
}

// Default tier priorities.
const (
	PriorityCompoundConsent = 100
	PriorityCoreIdentity    = 90
	PrioritySecondary       = 20
)

var (
	defaultRuleset     *Ruleset
	defaultRulesetOnce sync.Once
)

// DefaultRuleset returns the shared built-in ruleset.
func DefaultRuleset() *Ruleset {
	defaultRulesetOnce.Do(func() {
		rs, err := BuildDefaultRuleset(DefaultDictionary())
		if err != nil {
			panic(fmt.Sprintf("classification: default ruleset: %v", err))
		}
		defaultRuleset = rs
	})
	return defaultRuleset
}

// BuildDefaultRuleset builds the three built-in tiers from dict.
func BuildDefaultRuleset(dict Dictionary) (*Ruleset, error) {
	spec := domain.RulesetSpec{
		Tiers: []domain.TierSpec{
			{
				Name:     "compound consent",
				Priority: PriorityCompoundConsent,
				Rules: []domain.RuleSpec{
					{Target: domain.TargetConsentEmail, Concept: ConceptConsent, FollowedBy: ConceptEmail},
					{Target: domain.TargetConsentSMS, Concept: ConceptConsent, FollowedBy: ConceptSMS},
				},
			},
			{
				Name:     "core identity",
				Priority: PriorityCoreIdentity,
				Rules: []domain.RuleSpec{
					{Target: domain.TargetFullName, Concept: ConceptName},
					{Target: domain.TargetEmail, Concept: ConceptEmail},
					{Target: domain.TargetPhone, Concept: ConceptPhone},
					{Target: domain.TargetMessage, Concept: ConceptMessage},
				},
			},
			{
				Name:     "secondary",
				Priority: PrioritySecondary,
				Rules: []domain.RuleSpec{
					{Target: domain.TargetPostal, Concept: ConceptPostalCode},
					{Target: domain.TargetEquipment, Concept: ConceptEquipment},
				},
			},
		},
	}
	tiers, err := compileTiers(spec.Tiers, dict)
	if err != nil {
		return nil, err
	}
	return NewRuleset(tiers...), nil
}

// Compile turns a declarative spec into a ruleset. Concepts resolve against
// the default dictionary extended with the spec's own dictionaries.
func Compile(spec *domain.RulesetSpec) (*Ruleset, error) {
	if spec == nil {
		return DefaultRuleset(), nil
	}
	dict := DefaultDictionary().Merge(Dictionary(spec.Dictionaries))
	tiers, err := compileTiers(spec.Tiers, dict)
	if err != nil {
		return nil, err
	}
	if spec.ExtendsDefault {
		base := DefaultRuleset()
		if len(spec.Dictionaries) > 0 {
			if base, err = BuildDefaultRuleset(dict); err != nil {
				return nil, err
			}
		}
		return base.Extend(tiers...), nil
	}
	return NewRuleset(tiers...), nil
}

func compileTiers(specs []domain.TierSpec, dict Dictionary) ([]Tier, error) {
	tiers := make([]Tier, 0, len(specs))
	for ti, ts := range specs {
		tier := Tier{Name: ts.Name, Priority: ts.Priority}
		for ri, rs := range ts.Rules {
			rule, err := compileRule(rs, dict)
			if err != nil {
				return nil, fmt.Errorf("tier %d rule %d: %w", ti, ri, err)
			}
			tier.Rules = append(tier.Rules, rule)
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

func compileRule(rs domain.RuleSpec, dict Dictionary) (Rule, error) {
	if strings.TrimSpace(rs.Target) == "" {
		return Rule{}, ErrEmptyTarget
	}
	first, err := resolveGroup(rs.Concept, rs.Keywords, dict)
	if err != nil {
		return Rule{}, err
	}
	name := ruleName(rs.Concept, rs.Keywords)

	if !rs.IsCompound() {
		m, err := NewKeywordMatcher(first)
		if err != nil {
			return Rule{}, err
		}
		return Rule{Name: name, Target: rs.Target, Matcher: m}, nil
	}

	second, err := resolveGroup(rs.FollowedBy, rs.FollowedByKeywords, dict)
	if err != nil {
		return Rule{}, err
	}
	m, err := NewCompoundMatcher(first, second)
	if err != nil {
		return Rule{}, err
	}
	return Rule{
		Name:    name + ">" + ruleName(rs.FollowedBy, rs.FollowedByKeywords),
		Target:  rs.Target,
		Matcher: m,
	}, nil
}

func resolveGroup(concept string, keywords []string, dict Dictionary) ([]string, error) {
	var group []string
	if concept != "" {
		words, ok := dict.Lookup(concept)
		if !ok {
			return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownConcept, concept, strings.Join(dict.Concepts(), ", "))
		}
		group = append(group, words...)
	}
	group = append(group, keywords...)
	if len(group) == 0 {
		return nil, ErrEmptyKeywordGroup
	}
	return group, nil
}

func ruleName(concept string, keywords []string) string {
	if concept != "" {
		return concept
	}
	if len(keywords) > 0 {
		return "keywords:" + keywords[0]
	}
	return "rule"
}
