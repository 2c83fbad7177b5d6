package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Prompter = (*Prompter)(nil)

// TokenPageURL is where users generate a personal access token.
const TokenPageURL = "https://quip-amazon.com/dev/token"

// ErrNoInput is returned when the input stream ends before an answer.
var ErrNoInput = errors.New("no input")

// Prompter asks the user for a token and for migration consent. Tokens are
// read with echo disabled when input is a terminal.
type Prompter struct {
	in         *bufio.Reader
	out        io.Writer
	readSecret func() ([]byte, error)
}

// NewTerminalPrompter prompts on stderr and reads from stdin.
func NewTerminalPrompter() *Prompter {
	p := NewPrompter(os.Stdin, os.Stderr)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		p.readSecret = func() ([]byte, error) { return term.ReadPassword(fd) }
	}
	return p
}

// NewPrompter reads answers line by line from in and writes prompts to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// PromptForNewCredential asks for a personal access token.
func (p *Prompter) PromptForNewCredential(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprintf(p.out, "A Quip personal access token is required.\n")
	fmt.Fprintf(p.out, "Generate one at %s and paste it below.\n", TokenPageURL)
	fmt.Fprint(p.out, "Token: ")

	if p.readSecret != nil {
		b, err := p.readSecret()
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := p.readLine()
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return line, nil
}

// ConfirmMigration lists the legacy locations and asks whether to move the
// token into the vault. Anything other than y or yes declines.
func (p *Prompter) ConfirmMigration(ctx context.Context, locations []string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fmt.Fprintln(p.out, "Found a Quip token stored in plain text in:")
	for _, loc := range locations {
		fmt.Fprintf(p.out, "  %s\n", loc)
	}
	fmt.Fprint(p.out, "Move it to encrypted storage and remove these entries? [y/N]: ")

	line, err := p.readLine()
	if errors.Is(err, ErrNoInput) {
		fmt.Fprintln(p.out)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read answer: %w", err)
	}

	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" && errors.Is(err, io.EOF) {
		return "", ErrNoInput
	}
	return line, nil
}
