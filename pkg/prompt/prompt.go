// Package prompt implements the interactive selection and conflict
// prompts. The console reads from an injected reader so tests can script
// the interaction.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"tsegrab/pkg/conflict"
	"tsegrab/pkg/models"
)

// Console prompts on out and reads answers from in.
type Console struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewConsole creates a console prompter.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:  bufio.NewScanner(in),
		out: out,
	}
}

// SelectPeriods prints the available periods with 1-based indices and
// reads a selection. Invalid input re-prompts; io.EOF surfaces when the
// input runs out.
func (c *Console) SelectPeriods(periods []models.Period) ([]models.Period, error) {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Available election periods:")
	for i, p := range periods {
		fmt.Fprintf(c.out, "%3d. %s\n", i+1, p.Label)
	}

	for {
		fmt.Fprint(c.out, "\nChoose periods to download:\n"+
			"  - \"all\" or \"a\" for every period\n"+
			"  - \"last N\" or \"l N\" for the N most recent (e.g. \"last 10\")\n"+
			"  - comma-separated indices for specific periods (e.g. \"1,3,5\")\n"+
			"Your choice: ")

		line, err := c.readLine()
		if err != nil {
			return nil, err
		}

		selected, err := ParseSelection(line, len(periods))
		if err != nil {
			fmt.Fprintf(c.out, "%v\n", err)
			continue
		}

		result := make([]models.Period, 0, len(selected))
		for _, idx := range selected {
			result = append(result, periods[idx])
		}
		return result, nil
	}
}

// ParseSelection parses the selection grammar against a list of n items
// and returns the chosen 0-based indices, in selection order.
//
// Grammar: "all" | "a" selects everything; "last N" | "l N" selects the
// first N entries of the (newest-first) list, clamped to n; a
// comma-separated list of 1-based indices selects exactly those entries,
// with out-of-range indices dropped. An empty result is an error so the
// caller can re-prompt.
func ParseSelection(input string, n int) ([]int, error) {
	choice := strings.ToLower(strings.TrimSpace(input))
	if choice == "" {
		return nil, fmt.Errorf("empty selection")
	}

	if choice == "all" || choice == "a" {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	if strings.HasPrefix(choice, "last ") || strings.HasPrefix(choice, "l ") {
		fields := strings.Fields(choice)
		count, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || count <= 0 {
			return nil, fmt.Errorf("invalid format: use \"last N\" or \"l N\" where N is a positive number")
		}
		if count > n {
			count = n
		}
		last := make([]int, count)
		for i := range last {
			last[i] = i
		}
		return last, nil
	}

	var selected []int
	for _, part := range strings.Split(choice, ",") {
		idx, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid input, try again")
		}
		if idx < 1 || idx > n {
			// Out-of-range indices are dropped, matching the portal list
			// the user just saw; an all-invalid selection re-prompts.
			continue
		}
		selected = append(selected, idx-1)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no valid periods selected")
	}
	return selected, nil
}

// ConflictChoice asks what to do about an existing file. Answers follow
// the s/o/sa/oa grammar; anything else re-prompts.
func (c *Console) ConflictChoice(path string, size int64) (conflict.Decision, error) {
	for {
		fmt.Fprintf(c.out, "\nFile already exists: %s (%s)\n"+
			"  [s]  skip this file\n"+
			"  [o]  overwrite this file\n"+
			"  [sa] skip all existing files\n"+
			"  [oa] overwrite all existing files\n"+
			"Choice: ", path, humanize.Bytes(uint64(size)))

		line, err := c.readLine()
		if err != nil {
			return conflict.Decision{}, err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "s":
			return conflict.Decision{Action: conflict.ActionSkip, Scope: conflict.ScopeSingleFile}, nil
		case "o":
			return conflict.Decision{Action: conflict.ActionOverwrite, Scope: conflict.ScopeSingleFile}, nil
		case "sa":
			return conflict.Decision{Action: conflict.ActionSkip, Scope: conflict.ScopeAllRemaining}, nil
		case "oa":
			return conflict.Decision{Action: conflict.ActionOverwrite, Scope: conflict.ScopeAllRemaining}, nil
		default:
			fmt.Fprintln(c.out, "Invalid option, use s, o, sa or oa.")
		}
	}
}

func (c *Console) readLine() (string, error) {
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return c.in.Text(), nil
}
