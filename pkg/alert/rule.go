package alert

import (
	"fmt"
	"time"

	"github.com/elonfeng/signalindex/pkg/score"
	"github.com/google/cel-go/cel"
)

// Rule selects ranked persons worth an alert. When is a CEL expression
// over the variables declared in RuleEnv and must return a bool.
type Rule struct {
	Name string `yaml:"name"`
	When string `yaml:"when"`

	program cel.Program
}

// RuleEnv declares the variables a rule can reference.
func RuleEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("person", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("score", cel.DoubleType),
		cel.Variable("social", cel.DoubleType),
		cel.Variable("video", cel.DoubleType),
		cel.Variable("chart", cel.DoubleType),
		cel.Variable("engagement_rate", cel.DoubleType),
		cel.Variable("views", cel.IntType),
		cel.Variable("best_rank", cel.IntType),
		cel.Variable("mentions", cel.IntType),
	)
}

// Init compiles When against env.
func (r *Rule) Init(env *cel.Env) error {
	ast, iss := env.Compile(r.When)
	if iss.Err() != nil {
		return fmt.Errorf("rule %s: %w", r.Name, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return fmt.Errorf("rule %s: expression must return bool, got %s", r.Name, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("rule %s: %w", r.Name, err)
	}
	r.program = prg
	return nil
}

// Match reports whether res satisfies the rule. Evaluation errors count as
// no match.
func (r *Rule) Match(res score.Result) bool {
	if r.program == nil {
		return false
	}
	bestRank := int64(0)
	if res.BestChartRank != nil {
		bestRank = int64(*res.BestChartRank)
	}
	out, _, err := r.program.Eval(map[string]any{
		"person":          res.PersonKey,
		"category":        res.Category,
		"score":           res.Score,
		"social":          res.SocialComponent,
		"video":           res.VideoComponent,
		"chart":           res.ChartComponent,
		"engagement_rate": res.EngagementRate,
		"views":           res.VideoViews,
		"best_rank":       bestRank,
		"mentions":        int64(res.ProductMentions),
	})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

// CompileRules initializes every rule against a shared environment.
func CompileRules(rules []Rule) ([]Rule, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	env, err := RuleEnv()
	if err != nil {
		return nil, fmt.Errorf("rule env: %w", err)
	}
	out := make([]Rule, len(rules))
	for i, r := range rules {
		if r.Name == "" {
			r.Name = fmt.Sprintf("rule_%d", i+1)
		}
		if err := r.Init(env); err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// RuleNotifications returns one notification per rule that matched at
// least one result.
func RuleNotifications(rules []Rule, results []score.Result, at time.Time) []*Notification {
	var out []*Notification
	for i := range rules {
		var entries []Entry
		for _, res := range results {
			if rules[i].Match(res) {
				entries = append(entries, Entry{Name: res.PersonKey, Value: res.Score, Detail: res.Category})
			}
		}
		if len(entries) == 0 {
			continue
		}
		out = append(out, &Notification{
			Kind:    KindRule,
			Title:   rules[i].Name,
			Body:    fmt.Sprintf("%d person(s) match %s", len(entries), rules[i].When),
			Entries: entries,
			Time:    at,
		})
	}
	return out
}
