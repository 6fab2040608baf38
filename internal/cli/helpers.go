package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aretw0/marionette/pkg/domain"
)

func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return data, nil
}

// ParseInputs turns key=value pairs into flow inputs. Values that parse as
// JSON numbers, booleans or null keep their type; everything else is a string.
func ParseInputs(pairs []string) (map[string]any, error) {
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q: want key=value", pair)
		}
		inputs[key] = parseScalar(value)
	}
	return inputs, nil
}

func parseScalar(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// printSystemMessage prints a standardized system message.
func printSystemMessage(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, ">>> %s\n", fmt.Sprintf(format, args...))
}

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || domain.CodeOf(err) == domain.CodeInterrupted
}

// ExitCode maps a command error to a process exit status: 0 for success,
// 130 for interruptions and 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case isInterrupted(err):
		return 130
	default:
		return 1
	}
}

