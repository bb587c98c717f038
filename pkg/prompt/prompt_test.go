package prompt

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"tsegrab/pkg/conflict"
	"tsegrab/pkg/models"
)

func TestParseSelection(t *testing.T) {
	tests := []struct {
		input   string
		n       int
		want    []int
		wantErr bool
	}{
		{"all", 5, []int{0, 1, 2, 3, 4}, false},
		{"a", 3, []int{0, 1, 2}, false},
		{"  ALL  ", 2, []int{0, 1}, false},
		{"last 2", 5, []int{0, 1}, false},
		{"l 2", 5, []int{0, 1}, false},
		{"last 10", 3, []int{0, 1, 2}, false}, // clamped
		{"last x", 5, nil, true},
		{"last -1", 5, nil, true},
		{"1,3,5", 5, []int{0, 2, 4}, false},
		{"3, 1", 5, []int{2, 0}, false}, // selection order preserved
		{"1,99", 5, []int{0}, false},    // out of range dropped
		{"99", 5, nil, true},            // nothing left
		{"abc", 5, nil, true},
		{"", 5, nil, true},
	}

	for _, test := range tests {
		got, err := ParseSelection(test.input, test.n)
		if test.wantErr {
			if err == nil {
				t.Errorf("ParseSelection(%q) expected error, got %v", test.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSelection(%q) failed: %v", test.input, err)
			continue
		}
		if len(got) != len(test.want) {
			t.Errorf("ParseSelection(%q) = %v, want %v", test.input, got, test.want)
			continue
		}
		for i := range test.want {
			if got[i] != test.want[i] {
				t.Errorf("ParseSelection(%q) = %v, want %v", test.input, got, test.want)
				break
			}
		}
	}
}

func TestSelectPeriodsRepromptsOnInvalidInput(t *testing.T) {
	periods := []models.Period{
		{Label: "2024"},
		{Label: "2022"},
		{Label: "2020"},
	}

	var out bytes.Buffer
	console := NewConsole(strings.NewReader("nonsense\n1,3\n"), &out)

	selected, err := console.SelectPeriods(periods)
	if err != nil {
		t.Fatalf("SelectPeriods failed: %v", err)
	}
	if len(selected) != 2 || selected[0].Label != "2024" || selected[1].Label != "2020" {
		t.Errorf("Unexpected selection: %v", selected)
	}

	listing := out.String()
	if !strings.Contains(listing, "1. 2024") || !strings.Contains(listing, "3. 2020") {
		t.Errorf("Expected a numbered listing, got:\n%s", listing)
	}
}

func TestSelectPeriodsEOF(t *testing.T) {
	console := NewConsole(strings.NewReader(""), io.Discard)
	if _, err := console.SelectPeriods([]models.Period{{Label: "2024"}}); err != io.EOF {
		t.Errorf("Expected io.EOF on exhausted input, got %v", err)
	}
}

func TestConflictChoice(t *testing.T) {
	tests := []struct {
		input string
		want  conflict.Decision
	}{
		{"s\n", conflict.Decision{Action: conflict.ActionSkip, Scope: conflict.ScopeSingleFile}},
		{"o\n", conflict.Decision{Action: conflict.ActionOverwrite, Scope: conflict.ScopeSingleFile}},
		{"sa\n", conflict.Decision{Action: conflict.ActionSkip, Scope: conflict.ScopeAllRemaining}},
		{"OA\n", conflict.Decision{Action: conflict.ActionOverwrite, Scope: conflict.ScopeAllRemaining}},
		{"x\ns\n", conflict.Decision{Action: conflict.ActionSkip, Scope: conflict.ScopeSingleFile}},
	}

	for _, test := range tests {
		var out bytes.Buffer
		console := NewConsole(strings.NewReader(test.input), &out)

		decision, err := console.ConflictChoice("dados/2024/candidatos.zip", 1048576)
		if err != nil {
			t.Fatalf("ConflictChoice(%q) failed: %v", test.input, err)
		}
		if decision != test.want {
			t.Errorf("ConflictChoice(%q) = %+v, want %+v", test.input, decision, test.want)
		}
		if !strings.Contains(out.String(), "dados/2024/candidatos.zip") {
			t.Error("Expected the prompt to name the conflicting file")
		}
	}
}
