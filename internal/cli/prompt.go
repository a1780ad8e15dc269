package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// prompter reads answers to interactive questions, one per line.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// line prints question with its default and returns the trimmed answer,
// or def when the answer is empty.
func (p *prompter) line(question, def string) string {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}
	input, _ := p.in.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

// choice repeats the question until the answer is one of options.
func (p *prompter) choice(question, def string, options ...string) string {
	for {
		answer := strings.ToLower(p.line(question+" ("+strings.Join(options, "/")+")", def))
		for _, o := range options {
			if answer == o {
				return answer
			}
		}
		fmt.Fprintln(p.out, "Invalid choice, please try again.")
		if _, err := p.in.Peek(1); err != nil {
			return def
		}
	}
}

// integer repeats the question until the answer is an integer in [min, max].
func (p *prompter) integer(question string, def, min, max int) int {
	for {
		answer := p.line(question, strconv.Itoa(def))
		v, err := strconv.Atoi(answer)
		if err == nil && v >= min && v <= max {
			return v
		}
		fmt.Fprintf(p.out, "  Error: enter a number between %d and %d\n", min, max)
		if _, err := p.in.Peek(1); err != nil {
			return def
		}
	}
}

// yesNo asks a yes/no question.
func (p *prompter) yesNo(question string, def bool) bool {
	d := "n"
	if def {
		d = "y"
	}
	answer := strings.ToLower(p.line(question+" (y/n)", d))
	return answer == "y" || answer == "yes"
}
