package ffmpeg

import (
	"strings"

	"github.com/google/shlex"
)

// shellMeta are characters rejected in caller-supplied arguments. exec never
// involves a shell, but these have no business in an encoder option either.
const shellMeta = "|&;`$()<>"

// reservedOptions would change the inputs or the graph of a plan and are
// refused in caller-supplied extra arguments.
var reservedOptions = map[string]bool{
	"-i":              true,
	"-f":              true,
	"-filter_complex": true,
	"-map":            true,
	"-safe":           true,
}

// SplitArgs splits a command-line fragment into arguments without a shell.
func SplitArgs(s string) ([]string, error) {
	args, err := shlex.Split(s)
	if err != nil {
		return nil, invalidf("invalid argument syntax: %v", err)
	}
	return args, nil
}

// ValidateExtraArgs checks caller-supplied extra arguments before they are
// appended to a plan.
func ValidateExtraArgs(args []string) error {
	for _, arg := range args {
		if reservedOptions[arg] {
			return invalidf("option %s is not allowed in extra arguments", arg)
		}
		if strings.ContainsAny(arg, shellMeta) {
			return invalidf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
