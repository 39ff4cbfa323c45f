// Package threshold parses and evaluates pass/fail conditions over
// aggregated metrics.
//
// A threshold pairs a metric name with an expression:
//
//	http_req_duration: p(95) < 400
//	http_req_failed:   rate < 0.1
//	checks:            rate > 0.9
//
// Trend bounds are milliseconds, or a Go duration such as 500ms.
package threshold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Aggregation selects the statistic compared against the bound.
type Aggregation string

const (
	AggPercentile Aggregation = "p"
	AggAvg        Aggregation = "avg"
	AggMin        Aggregation = "min"
	AggMax        Aggregation = "max"
	AggMed        Aggregation = "med"
	AggCount      Aggregation = "count"
	AggRate       Aggregation = "rate"
)

// Operator compares the aggregated value with the bound.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpStrictEqual  Operator = "==="
	OpNotEqual     Operator = "!="
)

// Predicate is a parsed threshold expression.
type Predicate struct {
	Aggregation Aggregation `json:"aggregation"`

	// Percentile is set for AggPercentile, in (0, 100].
	Percentile float64 `json:"percentile,omitempty"`

	Op    Operator `json:"op"`
	Bound float64  `json:"bound"`
}

// Holds reports whether value satisfies the predicate.
func (p Predicate) Holds(value float64) bool {
	switch p.Op {
	case OpLess:
		return value < p.Bound
	case OpLessEqual:
		return value <= p.Bound
	case OpGreater:
		return value > p.Bound
	case OpGreaterEqual:
		return value >= p.Bound
	case OpEqual, OpStrictEqual:
		return value == p.Bound
	case OpNotEqual:
		return value != p.Bound
	}
	return false
}

// Label renders the aggregation the way it was written, e.g. "p(95)".
func (p Predicate) Label() string {
	if p.Aggregation == AggPercentile {
		return "p(" + strconv.FormatFloat(p.Percentile, 'f', -1, 64) + ")"
	}
	return string(p.Aggregation)
}

var exprPattern = regexp.MustCompile(
	`^\s*(p\(\s*[0-9.]+\s*\)|p[0-9.]+|avg|min|max|med|count|rate)\s*(===|==|!=|<=|>=|<|>)\s*(\S+)\s*$`)

// ParsePredicate parses an expression such as "p(95) < 400".
func ParsePredicate(expr string, kind Kind) (Predicate, error) {
	m := exprPattern.FindStringSubmatch(expr)
	if m == nil {
		return Predicate{}, fmt.Errorf("invalid threshold expression %q", expr)
	}

	var p Predicate
	agg := m[1]
	switch {
	case strings.HasPrefix(agg, "p"):
		raw := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(agg, "p"), "("), ")")
		pct, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || pct <= 0 || pct > 100 {
			return Predicate{}, fmt.Errorf("invalid percentile in %q", expr)
		}
		p.Aggregation = AggPercentile
		p.Percentile = pct
	default:
		p.Aggregation = Aggregation(agg)
	}

	if !kind.allows(p.Aggregation) {
		return Predicate{}, fmt.Errorf("aggregation %s is not supported for %s metrics", p.Label(), kind)
	}

	p.Op = Operator(m[2])

	bound, err := parseBound(m[3], kind == KindTrend)
	if err != nil {
		return Predicate{}, fmt.Errorf("invalid bound in %q: %w", expr, err)
	}
	p.Bound = bound

	return p, nil
}

// parseBound parses a number, or a duration converted to milliseconds when
// durations are allowed.
func parseBound(s string, duration bool) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	if !duration {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number or duration", s)
	}
	return float64(d) / float64(time.Millisecond), nil
}

// Definition is the declarative form of a threshold.
type Definition struct {
	Metric         string        `json:"metric" yaml:"metric"`
	Expression     string        `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool          `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval time.Duration `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

// Threshold is a compiled, immutable threshold.
type Threshold struct {
	Metric         string
	Expression     string
	AbortOnFail    bool
	DelayAbortEval time.Duration

	target    Target
	predicate Predicate
}

// Parse compiles a non-aborting threshold.
func Parse(metric, expr string) (*Threshold, error) {
	return New(Definition{Metric: metric, Expression: expr})
}

// New compiles def.
func New(def Definition) (*Threshold, error) {
	if def.DelayAbortEval < 0 {
		return nil, fmt.Errorf("threshold %s: delayAbortEval cannot be negative", def.Metric)
	}

	target, err := Resolve(def.Metric)
	if err != nil {
		return nil, err
	}

	pred, err := ParsePredicate(def.Expression, target.Kind)
	if err != nil {
		return nil, fmt.Errorf("threshold %s: %w", def.Metric, err)
	}

	return &Threshold{
		Metric:         def.Metric,
		Expression:     strings.TrimSpace(def.Expression),
		AbortOnFail:    def.AbortOnFail,
		DelayAbortEval: def.DelayAbortEval,
		target:         target,
		predicate:      pred,
	}, nil
}

// Compile compiles every definition, reporting the first error.
func Compile(defs []Definition) ([]*Threshold, error) {
	out := make([]*Threshold, 0, len(defs))
	for _, def := range defs {
		t, err := New(def)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Predicate returns the parsed expression.
func (t *Threshold) Predicate() Predicate {
	return t.predicate
}

// Target returns the series the threshold reads.
func (t *Threshold) Target() Target {
	return t.target
}

func (t *Threshold) String() string {
	return t.Metric + ": " + t.Expression
}
