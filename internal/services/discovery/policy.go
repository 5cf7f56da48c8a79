package discovery

import (
	"fmt"
	"strings"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/google/cel-go/cel"
)

// DefaultPolicy lets every matching profile through
const DefaultPolicy = "true"

// Policy is a compiled CEL discoverability rule evaluated per search hit.
//
// Available variables:
//
//	profile.id, profile.username, profile.avatar_url (string)
//	query (string) the trimmed search text
//
// Example: `!profile.username.startsWith("bot_") && size(query) >= 2`
type Policy struct {
	expression string
	program    cel.Program
}

// NewPolicy compiles expression; an empty expression means DefaultPolicy
func NewPolicy(expression string) (*Policy, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		expression = DefaultPolicy
	}

	env, err := cel.NewEnv(
		cel.Variable("profile", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("query", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("CEL expression must return boolean, got: %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Policy{expression: expression, program: program}, nil
}

// Expression returns the source of the compiled rule
func (p *Policy) Expression() string {
	return p.expression
}

// Allow reports whether profile may be shown for query
func (p *Policy) Allow(query string, profile *entities.Profile) (bool, error) {
	result, _, err := p.program.Eval(map[string]interface{}{
		"profile": map[string]string{
			"id":         profile.ID,
			"username":   profile.Username,
			"avatar_url": profile.AvatarURL,
		},
		"query": query,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	allowed, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not evaluate to boolean, got: %T", result.Value())
	}
	return allowed, nil
}
