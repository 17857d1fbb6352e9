package classifier

import (
	"context"
	"regexp"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/fusion"
)

// Compiled at init.
var (
	// Error codes: ERR_*, E0001, ABC123, FooException
	errorCodePattern = regexp.MustCompile(`(?i)^(ERR_\w+|E\d{4,5}|[A-Z]{2,}\d{3,}|\w+Exception)$`)

	quotedPattern = regexp.MustCompile(`^["'].*["']$`)

	filePathPattern = regexp.MustCompile(`(?i)^[\w\-\./\\]+\.(go|ts|tsx|js|jsx|py|md|json|yaml|yml|toml|rs|java|kt|c|cpp|h|rb|php|sh|sql|proto)$`)

	camelCasePattern      = regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`)
	pascalCasePattern     = regexp.MustCompile(`^([A-Z][a-z0-9]*){2,}$`)
	snakeCasePattern      = regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)+$`)
	screamingSnakePattern = regexp.MustCompile(`^[A-Z]+(_[A-Z0-9]+)+$`)

	// Questions about how things connect.
	relationalPattern = regexp.MustCompile(`(?i)\b(related|relationship|relationships|between|connected|connects|depends|dependency|dependencies|interacts?|linked|calls|upstream|downstream|impact of)\b`)

	// Corpus-wide questions that no single passage answers.
	globalPattern = regexp.MustCompile(`(?i)\b(overview|overall|themes?|summari[sz]e|summary|main topics?|big picture|landscape|across (the|all)|in general|trends?)\b`)

	naturalLanguagePattern = regexp.MustCompile(`(?i)^(how|what|where|why|when|which|who|can|does|is|are|should|explain|describe|show|find|list)\s`)
)

// PatternClassifier routes queries with regular expressions. It never
// fails and needs no model.
type PatternClassifier struct {
	weights map[QueryType]fusion.RoutingWeights
}

var _ Classifier = (*PatternClassifier)(nil)

// Option configures a PatternClassifier.
type Option func(*PatternClassifier)

// WithWeights overrides the routing weights of some query types.
// Invalid weight sets are ignored.
func WithWeights(overrides map[QueryType]fusion.RoutingWeights) Option {
	return func(p *PatternClassifier) {
		for qt, w := range overrides {
			if w.Validate() == nil {
				p.weights[qt] = copyWeights(w)
			}
		}
	}
}

// NewPatternClassifier creates a classifier with the default weight table.
func NewPatternClassifier(opts ...Option) *PatternClassifier {
	p := &PatternClassifier{weights: make(map[QueryType]fusion.RoutingWeights)}
	for _, qt := range AllQueryTypes() {
		p.weights[qt] = WeightsFor(qt)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Classify determines the query type and its routing weights.
func (p *PatternClassifier) Classify(_ context.Context, query string) (QueryType, fusion.RoutingWeights, error) {
	qt := p.classifyQuery(strings.TrimSpace(query))
	return qt, copyWeights(p.weights[qt]), nil
}

func (p *PatternClassifier) classifyQuery(query string) QueryType {
	if query == "" {
		return QueryTypeMixed
	}
	// Most specific first.
	if isLexicalQuery(query) {
		return QueryTypeLexical
	}
	if globalPattern.MatchString(query) {
		return QueryTypeGlobal
	}
	if relationalPattern.MatchString(query) {
		return QueryTypeRelational
	}
	if naturalLanguagePattern.MatchString(query) {
		return QueryTypeSemantic
	}
	if len(strings.Fields(query)) >= 3 {
		return QueryTypeSemantic
	}
	return QueryTypeMixed
}

func isLexicalQuery(query string) bool {
	if errorCodePattern.MatchString(query) || quotedPattern.MatchString(query) || filePathPattern.MatchString(query) {
		return true
	}
	if strings.Contains(query, " ") {
		return false
	}
	return camelCasePattern.MatchString(query) ||
		pascalCasePattern.MatchString(query) ||
		snakeCasePattern.MatchString(query) ||
		screamingSnakePattern.MatchString(query)
}
