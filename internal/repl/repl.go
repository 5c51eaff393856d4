// Package repl runs the interactive search session on a terminal.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/searcher/executor"
)

type Searcher interface {
	Search(ctx context.Context, text string, k int) ([]executor.SearchResult, error)
}

// Session reads queries from in and writes prompts and results to out.
type Session struct {
	searcher Searcher
	in       *bufio.Reader
	out      io.Writer
}

func New(searcher Searcher, in io.Reader, out io.Writer) *Session {
	return &Session{searcher: searcher, in: bufio.NewReader(in), out: out}
}

var errQuit = errors.New("quit")

// Run loops until input ends, the user types exit or quit, or ctx is
// cancelled. A failed search is reported and does not end the session.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		q, err := s.prompt("Input Query: ")
		if err != nil {
			return ignoreQuit(err)
		}
		if q == "" {
			continue
		}
		k, err := s.readCount()
		if err != nil {
			return ignoreQuit(err)
		}

		results, err := s.searcher.Search(ctx, q, k)
		if err != nil {
			fmt.Fprintf(s.out, "search failed: %v\n", err)
			continue
		}
		s.print(results)
	}
}

func (s *Session) readCount() (int, error) {
	for {
		raw, err := s.prompt("How many results? ")
		if err != nil {
			return 0, err
		}
		k, err := strconv.Atoi(raw)
		if err != nil || k < 1 {
			fmt.Fprintf(s.out, "Invalid count %q, enter a positive number.\n", raw)
			continue
		}
		return k, nil
	}
}

// prompt returns the trimmed input line. io.EOF ends the session, as does
// exit or quit.
func (s *Session) prompt(label string) (string, error) {
	fmt.Fprint(s.out, label)
	line, err := s.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		fmt.Fprintln(s.out)
		if errors.Is(err, io.EOF) {
			return "", errQuit
		}
		return "", err
	}
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "exit", "quit":
		return "", errQuit
	}
	return line, nil
}

func (s *Session) print(results []executor.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(s.out, "No results.")
		return
	}
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(s.out)
		}
		fmt.Fprintf(s.out, "[%.4f] %s\n", r.Score, r.Code)
	}
	fmt.Fprintln(s.out)
}

func ignoreQuit(err error) error {
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}
