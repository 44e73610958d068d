package ffmpeg

import (
	"fmt"
	"log"
	"regexp"
	"slices"
	"strings"

	"github.com/google/shlex"
)

// FilterFlags are the user flags that compete with the generated video filter.
var FilterFlags = []string{"-vf", "-filter:v"}

var newlineRun = regexp.MustCompile(`[\r\n]+`)

// SplitCommand splits a flag string into arguments without involving a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// NormalizeFlags collapses newline runs into single spaces, trims the result
// and splits it into arguments. A string that cannot be split is treated as
// empty.
func NormalizeFlags(flags string) []string {
	flags = strings.TrimSpace(newlineRun.ReplaceAllString(flags, " "))
	if flags == "" {
		return nil
	}
	args, err := SplitCommand(flags)
	if err != nil {
		log.Printf("Ignoring malformed encoder flags %q: %v", flags, err)
		return nil
	}
	return args
}

// SpliceFlag removes every occurrence of the given flags and their values
// from args. The removed values are returned in the order they appeared.
// A flag in last position without a value is dropped.
func SpliceFlag(args []string, flags ...string) (rest []string, values []string) {
	rest = make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if !slices.Contains(flags, args[i]) {
			rest = append(rest, args[i])
			continue
		}
		if i+1 < len(args) {
			if v := args[i+1]; v != "" {
				values = append(values, v)
			}
			i++
		}
	}
	return rest, values
}
