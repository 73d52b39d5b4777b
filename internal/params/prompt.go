package params

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/go-wordwrap"
)

// Prompter asks the user for a parameter value. An empty answer accepts
// the default.
type Prompter interface {
	Ask(d Decl) (string, error)
}

// SurveyPrompter prompts on the terminal. Typing "?" shows the help text.
type SurveyPrompter struct{}

// Ask shows the prompt with the default offered for editing.
func (s *SurveyPrompter) Ask(d Decl) (string, error) {
	var answer string
	q := &survey.Input{
		Message: fmt.Sprintf("%s - %s", d.Name, d.Prompt),
		Default: d.Default,
		Help:    d.Help,
	}
	var opts []survey.AskOpt
	if d.Required {
		opts = append(opts, survey.WithValidator(survey.Required))
	}
	if err := survey.AskOne(q, &answer, opts...); err != nil {
		return "", err
	}
	return answer, nil
}

// TerminalPrompter returns a SurveyPrompter when stdin is a terminal and
// nil otherwise, so that scripted runs fall back to the defaults.
func TerminalPrompter() Prompter {
	fd := os.Stdin.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return nil
	}
	return &SurveyPrompter{}
}

// Usage writes the positional usage line and the wrapped help text of
// every parameter.
func Usage(w io.Writer) {
	names := make([]string, len(Decls))
	for i, d := range Decls {
		if d.Prompted {
			names[i] = strings.ToLower(d.Name)
		} else {
			names[i] = "[" + strings.ToLower(d.Name) + "]"
		}
	}
	fmt.Fprintf(w, "Usage:\n  %s\n", wordwrap.WrapString("pol2cat "+strings.Join(names, " "), 72))
	fmt.Fprintf(w, "\nParameters (positional or NAME=value; ! is null):\n")
	for _, d := range Decls {
		def := d.Default
		if d.Required {
			def = "required"
		} else if def == "" {
			def = "blank"
		}
		fmt.Fprintf(w, "\n  %s [%s]\n", d.Name, def)
		for _, line := range strings.Split(wordwrap.WrapString(d.Help, 68), "\n") {
			fmt.Fprintf(w, "      %s\n", line)
		}
	}
}
