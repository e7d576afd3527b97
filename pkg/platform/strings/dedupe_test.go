package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil stays nil", input: nil, expected: nil},
		{name: "empty stays empty", input: []string{}, expected: []string{}},
		{name: "trims ids", input: []string{"  tsk-1 ", "tsk-2\t"}, expected: []string{"tsk-1", "tsk-2"}},
		{name: "first occurrence wins", input: []string{"tsk-2", "tsk-1", " tsk-2", "tsk-1"}, expected: []string{"tsk-2", "tsk-1"}},
		{name: "drops blanks", input: []string{"", "  ", "rsk-7"}, expected: []string{"rsk-7"}},
		{name: "ids are case sensitive", input: []string{"TSK-1", "tsk-1"}, expected: []string{"TSK-1", "tsk-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "no input", input: nil, expected: nil},
		{name: "only separators", input: []string{",", " , "}, expected: nil},
		{name: "single list", input: []string{"tsk-1, tsk-2"}, expected: []string{"tsk-1", "tsk-2"}},
		{name: "mixed args", input: []string{"tsk-1,tsk-2", "tsk-3", "tsk-1"}, expected: []string{"tsk-1", "tsk-2", "tsk-3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitList(tt.input...))
		})
	}
}
