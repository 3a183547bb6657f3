package orchestrator

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Kshitij-M/sqs-orchestrator/pkg/sqsclient"
)

// Filter wraps a compiled CEL program evaluated against each received
// message before it is admitted. When disabled, Match always returns
// true. Non-matching messages are skipped without processing.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// NewFilter compiles expr. An empty expression yields a disabled filter.
func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON body (map/list/values) for field filtering
		cel.Variable("json", cel.DynType),
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("receive_count", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Enabled reports whether an expression is loaded.
func (f Filter) Enabled() bool { return f.enabled }

// Match evaluates the expression against msg. Evaluation errors count as
// no-match.
func (f Filter) Match(msg sqsclient.Message) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(msg.Body, &jsonObj)
	attrs := msg.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":            msg.ID,
		"text":          string(msg.Body),
		"json":          jsonObj,
		"attributes":    attrs,
		"receive_count": int64(msg.ReceiveCount),
		"size":          int64(len(msg.Body)),
		"now_ms":        time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
