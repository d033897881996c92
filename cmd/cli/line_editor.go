package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

var (
	errInputInterrupt = errors.New("cli: input interrupted")
	errInputEOF       = errors.New("cli: input eof")
)

// lineEditor abstracts interactive input so the console works both on a
// real terminal (readline with history and completion) and on a pipe.
type lineEditor interface {
	ReadLine(prompt string) (string, error)
	ReadSecret(prompt string) (string, error)
	Output() io.Writer
	Close() error
}

func newLineEditor(historyFile string, commands []string) lineEditor {
	if isTTY(os.Stdin) && isTTY(os.Stdout) {
		if ed, err := newReadlineEditor(historyFile, commands); err == nil {
			return ed
		}
	}
	return &pipeEditor{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

func isTTY(f *os.File) bool {
	if f == nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

type readlineEditor struct {
	rl *readline.Instance
}

func newReadlineEditor(historyFile string, commands []string) (*readlineEditor, error) {
	historyFile = strings.TrimSpace(historyFile)
	if historyFile != "" {
		if err := os.MkdirAll(filepath.Dir(historyFile), 0o755); err != nil {
			return nil, fmt.Errorf("cli: create history dir: %w", err)
		}
	}
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, name := range commands {
		if name = strings.TrimSpace(name); name != "" {
			items = append(items, readline.PcItem("/"+name))
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyFile,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, err
	}
	return &readlineEditor{rl: rl}, nil
}

func (r *readlineEditor) ReadLine(prompt string) (string, error) {
	r.rl.SetPrompt(prompt)
	line, err := r.rl.Readline()
	switch {
	case err == nil:
		return strings.TrimSpace(line), nil
	case errors.Is(err, readline.ErrInterrupt):
		return "", errInputInterrupt
	case errors.Is(err, io.EOF):
		return "", errInputEOF
	}
	return "", err
}

func (r *readlineEditor) ReadSecret(prompt string) (string, error) {
	text, err := r.rl.ReadPassword(prompt)
	switch {
	case err == nil:
		return strings.TrimSpace(string(text)), nil
	case errors.Is(err, readline.ErrInterrupt):
		return "", errInputInterrupt
	case errors.Is(err, io.EOF):
		return "", errInputEOF
	}
	return "", err
}

func (r *readlineEditor) Output() io.Writer { return r.rl.Stdout() }
func (r *readlineEditor) Close() error      { return r.rl.Close() }

// pipeEditor is the non-interactive fallback used when stdin or stdout
// is not a terminal.
type pipeEditor struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *pipeEditor) ReadLine(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", errInputEOF
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *pipeEditor) ReadSecret(prompt string) (string, error) {
	return p.ReadLine(prompt)
}

func (p *pipeEditor) Output() io.Writer { return p.out }
func (p *pipeEditor) Close() error      { return nil }
