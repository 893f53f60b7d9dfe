// Package prompt provides the confirmation providers used before destructive
// or ambiguous actions.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// Confirmer asks a yes/no question. def is the answer used when the user
// gives none.
type Confirmer interface {
	Confirm(prompt string, def bool) bool
}

// Static answers every question with the same value. Used for --yes and
// for non-interactive automation.
type Static bool

const (
	AlwaysYes Static = true
	AlwaysNo  Static = false
)

// Confirm implements Confirmer.
func (s Static) Confirm(string, bool) bool {
	return bool(s)
}

// Form confirms with a huh form on a terminal.
type Form struct {
	In  io.Reader
	Out io.Writer
}

// Confirm implements Confirmer. Errors (including ctrl-c) count as "no".
func (f Form) Confirm(prompt string, def bool) bool {
	answer := def
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(prompt).
			Affirmative("Yes").
			Negative("No").
			Value(&answer),
	))
	if f.In != nil {
		form = form.WithInput(f.In)
	}
	if f.Out != nil {
		form = form.WithOutput(f.Out)
	}
	if err := form.Run(); err != nil {
		return false
	}
	return answer
}

// Line reads a y/n answer line by line. Used when stdin is not a terminal.
type Line struct {
	Reader io.Reader
	Writer io.Writer

	once sync.Once
	buf  *bufio.Reader
}

// Confirm implements Confirmer. EOF or read errors return def.
func (l *Line) Confirm(prompt string, def bool) bool {
	l.once.Do(func() { l.buf = bufio.NewReader(l.Reader) })

	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	// best-effort prompt output
	_, _ = fmt.Fprintf(l.Writer, "%s %s ", prompt, hint)

	answer, err := l.buf.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "" {
		if err != nil {
			_, _ = fmt.Fprintln(l.Writer)
		}
		return def
	}
	return answer == "y" || answer == "yes"
}

// New returns a Form confirmer when in is a terminal and a Line confirmer otherwise.
func New(in *os.File, out io.Writer) Confirmer {
	if in != nil && term.IsTerminal(int(in.Fd())) { // #nosec G115 - file descriptors fit in int
		return Form{In: in, Out: out}
	}
	var r io.Reader = in
	if in == nil {
		r = strings.NewReader("")
	}
	return &Line{Reader: r, Writer: out}
}

// Scripted returns queued answers in order and records every prompt.
// When the queue is empty it answers with the default.
type Scripted struct {
	mu      sync.Mutex
	Answers []bool
	Prompts []string
}

// Confirm implements Confirmer.
func (s *Scripted) Confirm(prompt string, def bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Prompts = append(s.Prompts, prompt)
	if len(s.Answers) == 0 {
		return def
	}
	answer := s.Answers[0]
	s.Answers = s.Answers[1:]
	return answer
}
