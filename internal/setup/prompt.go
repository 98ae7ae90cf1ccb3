// Package setup implements the interactive terminal flows used by the CLI:
// writing a first config file and registering provider accounts.
package setup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// errNoInput is returned when the input stream ends mid-prompt.
var errNoInput = errors.New("no input")

// Prompter reads answers line by line from r and writes prompts to w.
type Prompter struct {
	scanner *bufio.Scanner
	w       io.Writer
}

// NewPrompter creates a Prompter wired to the given reader and writer.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(r), w: w}
}

func (p *Prompter) line() (string, bool) {
	if !p.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.scanner.Text()), true
}

// String prompts for a text value. Enter alone returns defaultVal; with an
// empty defaultVal the prompt repeats until a value is given or the input
// ends.
func (p *Prompter) String(label, defaultVal string) string {
	for {
		if defaultVal != "" {
			_, _ = fmt.Fprintf(p.w, "  %s [%s]: ", label, defaultVal)
		} else {
			_, _ = fmt.Fprintf(p.w, "  %s: ", label)
		}
		val, ok := p.line()
		if !ok {
			return defaultVal
		}
		if val != "" {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		_, _ = fmt.Fprintf(p.w, "  (a value is required)\n")
	}
}

// Optional prompts for a value that may be left empty.
func (p *Prompter) Optional(label string) string {
	_, _ = fmt.Fprintf(p.w, "  %s (optional): ", label)
	val, _ := p.line()
	return val
}

// Secret prompts for a required sensitive value such as an access token.
// Input is echoed; masking would need raw terminal mode.
func (p *Prompter) Secret(label string) (string, error) {
	for {
		_, _ = fmt.Fprintf(p.w, "  %s: ", label)
		val, ok := p.line()
		if !ok {
			return "", fmt.Errorf("reading %s: %w", label, errNoInput)
		}
		if val != "" {
			return val, nil
		}
		_, _ = fmt.Fprintf(p.w, "  (a value is required)\n")
	}
}

// Confirm asks a yes/no question. defaultYes decides the answer on Enter.
func (p *Prompter) Confirm(label string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}
	_, _ = fmt.Fprintf(p.w, "  %s %s: ", label, hint)

	answer, ok := p.line()
	if !ok || answer == "" {
		return defaultYes
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

func (p *Prompter) list(label string, options []string) {
	_, _ = fmt.Fprintf(p.w, "  %s:\n", label)
	for i, opt := range options {
		_, _ = fmt.Fprintf(p.w, "    %d) %s\n", i+1, opt)
	}
}

// Select presents a numbered list and returns the zero-based index of the
// chosen option.
func (p *Prompter) Select(label string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, fmt.Errorf("no options to select from")
	}
	p.list(label, options)

	for {
		_, _ = fmt.Fprintf(p.w, "  Choice [1-%d]: ", len(options))
		val, ok := p.line()
		if !ok {
			return -1, fmt.Errorf("selecting %s: %w", label, errNoInput)
		}
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 || n > len(options) {
			_, _ = fmt.Fprintf(p.w, "  (enter a number between 1 and %d)\n", len(options))
			continue
		}
		return n - 1, nil
	}
}

// MultiSelect presents a numbered list and returns the zero-based indices
// of the comma-separated choices. Enter alone selects every option.
func (p *Prompter) MultiSelect(label string, options []string) ([]int, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("no options to select from")
	}
	p.list(label, options)

	for {
		_, _ = fmt.Fprintf(p.w, "  Choices (comma-separated, Enter for all): ")
		val, ok := p.line()
		if !ok {
			return nil, fmt.Errorf("selecting %s: %w", label, errNoInput)
		}
		if val == "" {
			all := make([]int, len(options))
			for i := range all {
				all[i] = i
			}
			return all, nil
		}
		if idx, ok := parseChoices(val, len(options)); ok {
			return idx, nil
		}
		_, _ = fmt.Fprintf(p.w, "  (enter numbers between 1 and %d, separated by commas)\n", len(options))
	}
}

// parseChoices parses "1, 3" into distinct zero-based indices below n.
func parseChoices(val string, n int) ([]int, bool) {
	seen := make(map[int]bool)
	var out []int
	for _, part := range strings.Split(val, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || i < 1 || i > n {
			return nil, false
		}
		if !seen[i-1] {
			seen[i-1] = true
			out = append(out, i-1)
		}
	}
	return out, len(out) > 0
}
