package prompter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter reads answers from in and writes prompts to out.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

// New returns a prompter over in and out.
func New(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok {
		p.fd = int(f.Fd())
	}
	return p
}

var std = New(os.Stdin, os.Stdout)

// Interactive reports whether stdin is a terminal.
func Interactive() bool {
	return std.fd >= 0 && term.IsTerminal(std.fd)
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// String prompts for a single line.
func (p *Prompter) String(label string) (string, error) {
	fmt.Fprint(p.out, label)
	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Secret prompts for hidden input when reading from a terminal.
func (p *Prompter) Secret(label string) (string, error) {
	fmt.Fprint(p.out, label)
	if p.fd >= 0 && term.IsTerminal(p.fd) {
		b, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Confirm prompts for yes/no. An empty answer returns def.
func (p *Prompter) Confirm(label string, def bool) (bool, error) {
	hint := "(y/N)"
	if def {
		hint = "(Y/n)"
	}
	fmt.Fprintf(p.out, "%s %s ", label, hint)
	line, err := p.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Select prompts for one of options and returns its index.
func (p *Prompter) Select(label string, options []string) (int, error) {
	fmt.Fprintln(p.out, label)
	for i, opt := range options {
		fmt.Fprintf(p.out, "%d) %s\n", i+1, opt)
	}
	fmt.Fprint(p.out, "Select option: ")

	line, err := p.readLine()
	if err != nil {
		return -1, err
	}
	var selection int
	if _, err := fmt.Sscanf(strings.TrimSpace(line), "%d", &selection); err != nil {
		return -1, fmt.Errorf("invalid selection %q", strings.TrimSpace(line))
	}
	if selection < 1 || selection > len(options) {
		return -1, fmt.Errorf("invalid selection %d", selection)
	}
	return selection - 1, nil
}

// Multiline reads lines until an empty line, end of input or maxLines.
func (p *Prompter) Multiline(label string, maxLines int) (string, error) {
	fmt.Fprintf(p.out, "%s (finish with an empty line):\n", label)

	var lines []string
	for len(lines) < maxLines {
		line, err := p.readLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(line) == "" {
			break
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

// PromptString prompts on the terminal for a string input
func PromptString(label string) (string, error) {
	return std.String(label)
}

// PromptSecret prompts on the terminal for hidden input
func PromptSecret(label string) (string, error) {
	return std.Secret(label)
}

// PromptConfirm prompts on the terminal for yes/no confirmation
func PromptConfirm(label string, def bool) (bool, error) {
	return std.Confirm(label, def)
}

// PromptSelect prompts on the terminal to select from options
func PromptSelect(label string, options []string) (int, error) {
	return std.Select(label, options)
}

// PromptMultilineString prompts on the terminal for multi-line input
func PromptMultilineString(label string, maxLines int) (string, error) {
	return std.Multiline(label, maxLines)
}
