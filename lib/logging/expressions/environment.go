// Package expressions compiles the CEL programs operators use to filter log
// records.
package expressions

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// New creates a CEL environment with the string extensions loaded and all
// timestamps defaulting to UTC, plus whatever opts declare.
func New(opts ...cel.EnvOption) (*cel.Env, error) {
	args := []cel.EnvOption{
		ext.Strings(
			ext.StringsLocale("en_US"),
			ext.StringsValidateFormatCalls(true),
		),

		// default all timestamps to UTC
		cel.DefaultUTCTimeZone(true),
	}

	return cel.NewEnv(append(args, opts...)...)
}

// Compile type checks src against env and emits an optimized Program. The
// expression must evaluate to a bool so invalid filters fail at startup.
func Compile(env *cel.Env, src string) (cel.Program, error) {
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression returns %s, not bool", ast.OutputType())
	}

	return env.Program(
		ast,
		cel.EvalOptions(
			// optimize regular expressions right now instead of on the fly
			cel.OptOptimize,
		),
	)
}
