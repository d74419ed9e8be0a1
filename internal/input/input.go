// Package input expands CLI arguments that use - (stdin) or @file syntax
// into the lines they name.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrStdinReused is returned when - appears more than once.
var ErrStdinReused = errors.New("stdin already used")

// ExpandArgs replaces each "-" with the non-empty lines of stdin and each
// "@path" with the non-empty lines of that file. Lines starting with # are
// comments. Other values pass through unchanged.
func ExpandArgs(values []string, stdin io.Reader) ([]string, error) {
	var result []string
	stdinUsed := false
	for _, v := range values {
		switch {
		case v == "-":
			if stdinUsed {
				return nil, ErrStdinReused
			}
			stdinUsed = true
			lines, err := ReadLines(stdin)
			if err != nil {
				return nil, fmt.Errorf("read stdin: %w", err)
			}
			result = append(result, lines...)
		case strings.HasPrefix(v, "@") && len(v) > 1:
			path := strings.TrimPrefix(v, "@")
			file, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			lines, err := ReadLines(file)
			file.Close()
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			result = append(result, lines...)
		default:
			result = append(result, v)
		}
	}
	return result, nil
}

// ReadLines reads the trimmed, non-empty, non-comment lines from r.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
