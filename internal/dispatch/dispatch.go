// Package dispatch parses the single-line command grammar and dispatches
// it to the component that performs the operation, returning
// SUCCESS/FAILURE as a bool for the state machine to wrap into a status
// frame.
package dispatch

import (
	"fmt"
	"regexp"
	"strings"
)

// Command is the parsed representation of one dispatcher line.
type Command struct {
	Verb string
	Args []string
}

var twoQuotedArgs = regexp.MustCompile(`^\s*"([^"]*)"\s+"([^"]*)"\s*$`)

// Parse tokenizes a command line into a verb and its arguments. It prefers
// the regex fast path for an exactly-two-quoted-argument shape (WRITE),
// falling back to a quote+backslash-aware tokenizer for every other
// argument count (FORMAT's one, VERIFY's three, CUSTOMIZE's seven) and for
// arguments containing escaped quotes. Unknown verbs are still parsed
// (the caller maps them to FAILURE) rather than rejected here.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, fmt.Errorf("dispatch: empty command")
	}
	verb, rest, _ := strings.Cut(line, " ")
	verb = strings.ToUpper(strings.TrimSpace(verb))
	rest = strings.TrimSpace(rest)

	if verb == "SHUTDOWN" {
		return Command{Verb: verb}, nil
	}

	if m := twoQuotedArgs.FindStringSubmatch(rest); m != nil {
		return Command{Verb: verb, Args: []string{m[1], m[2]}}, nil
	}

	args, err := tokenizeQuoted(rest)
	if err != nil {
		return Command{}, fmt.Errorf("dispatch: %w", err)
	}
	return Command{Verb: verb, Args: args}, nil
}

// tokenizeQuoted splits a string into double-quoted arguments, honoring
// backslash escapes inside quotes (\" and \\). It tolerates any number of
// arguments, which the regex fast path cannot.
func tokenizeQuoted(s string) ([]string, error) {
	var args []string
	i := 0
	n := len(s)
	for i < n {
		for i < n && s[i] == ' ' {
			i++
		}
		if i >= n {
			break
		}
		if s[i] != '"' {
			return nil, fmt.Errorf("expected '\"' at position %d", i)
		}
		i++
		var b strings.Builder
		closed := false
		for i < n {
			c := s[i]
			if c == '\\' && i+1 < n && (s[i+1] == '"' || s[i+1] == '\\') {
				b.WriteByte(s[i+1])
				i += 2
				continue
			}
			if c == '"' {
				closed = true
				i++
				break
			}
			b.WriteByte(c)
			i++
		}
		if !closed {
			return nil, fmt.Errorf("unterminated quoted argument")
		}
		args = append(args, b.String())
	}
	return args, nil
}

// Handlers bundles the callbacks invoked for each verb. Each returns
// (success, error); error is for the caller's own logging, success is
// what becomes SUCCESS/FAILURE.
type Handlers struct {
	Format    func(device string) (bool, error)
	Write     func(device, source string) (bool, error)
	Customize func(device, cfg64, cmdline64, firstrun64, cloudinit64, cinet64, fmt64 string) (bool, error)
	Verify    func(device, source, expectedHash64 string) (bool, error)
	Shutdown  func() (bool, error)
}

// Dispatch parses line and invokes the matching handler. An unknown
// command, a malformed argument list, or a nil handler for the verb all
// produce false with a non-nil error — i.e. FAILURE, never a crash.
func Dispatch(line string, h Handlers) (success bool, err error) {
	cmd, perr := Parse(line)
	if perr != nil {
		return false, perr
	}
	switch cmd.Verb {
	case "FORMAT":
		if h.Format == nil || len(cmd.Args) != 1 {
			return false, fmt.Errorf("dispatch: FORMAT requires 1 argument, got %d", len(cmd.Args))
		}
		return h.Format(cmd.Args[0])
	case "WRITE":
		if h.Write == nil || len(cmd.Args) != 2 {
			return false, fmt.Errorf("dispatch: WRITE requires 2 arguments, got %d", len(cmd.Args))
		}
		return h.Write(cmd.Args[0], cmd.Args[1])
	case "CUSTOMIZE":
		if h.Customize == nil || len(cmd.Args) != 7 {
			return false, fmt.Errorf("dispatch: CUSTOMIZE requires 7 arguments, got %d", len(cmd.Args))
		}
		return h.Customize(cmd.Args[0], cmd.Args[1], cmd.Args[2], cmd.Args[3], cmd.Args[4], cmd.Args[5], cmd.Args[6])
	case "VERIFY":
		if h.Verify == nil || len(cmd.Args) != 3 {
			return false, fmt.Errorf("dispatch: VERIFY requires 3 arguments, got %d", len(cmd.Args))
		}
		return h.Verify(cmd.Args[0], cmd.Args[1], cmd.Args[2])
	case "SHUTDOWN":
		if h.Shutdown == nil {
			return false, fmt.Errorf("dispatch: no SHUTDOWN handler registered")
		}
		return h.Shutdown()
	default:
		return false, fmt.Errorf("dispatch: unknown command %q", cmd.Verb)
	}
}
