package ffmpeg

import (
	"slices"
	"strings"

	"github.com/google/shlex"
)

// Plan is a fully formed encoder invocation. Building one has no side effects;
// the Executor materializes the script, if any, and runs it.
//
// The only implementations are the concat-script and filter-graph plans
// produced by Builder.
type Plan interface {
	// Args returns the complete argument list, binary first. scriptPath is
	// spliced in for plans that carry a script and ignored otherwise.
	Args(scriptPath string) []string
	// Script returns the auxiliary script that must be written to disk before
	// the plan runs.
	Script() (string, bool)

	plan()
}

type concatPlan struct {
	prefix []string
	script string
	suffix []string
}

func (p concatPlan) Args(scriptPath string) []string {
	args := make([]string, 0, len(p.prefix)+len(p.suffix)+1)
	args = append(args, p.prefix...)
	args = append(args, scriptPath)
	return append(args, p.suffix...)
}

func (p concatPlan) Script() (string, bool) { return p.script, true }

func (concatPlan) plan() {}

type filterPlan struct {
	args []string
}

func (p filterPlan) Args(string) []string { return slices.Clone(p.args) }

func (filterPlan) Script() (string, bool) { return "", false }

func (filterPlan) plan() {}

// ScriptPlaceholder stands in for the not-yet-created script path in previews.
const ScriptPlaceholder = "${CONCAT_SCRIPT}"

// Describe renders the plan for humans, with ScriptPlaceholder in place of the
// script path.
func Describe(p Plan) string {
	args := p.Args(ScriptPlaceholder)
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = quoteArg(arg)
	}
	return strings.Join(quoted, " ")
}

// quoteArg single-quotes arg when splitting the rendered line would not give it back.
func quoteArg(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, shellMeta+"*?[]{}~!#") {
		if parts, err := shlex.Split(arg); err == nil && len(parts) == 1 && parts[0] == arg {
			return arg
		}
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
