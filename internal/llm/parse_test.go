package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseParaphrases(t *testing.T) {
	reply := `1. What does "service person" mean under the Act?
2) How is a service person defined?

- what is a service person
"Which individuals count as service persons?"
4. Who qualifies as a service person?`

	got := ParseParaphrases(reply, "What is a service person?", 3)
	assert.Equal(t, []string{
		`What does "service person" mean under the Act?`,
		"How is a service person defined?",
		"Which individuals count as service persons?",
	}, got)
}

func TestParseParaphrases_Empty(t *testing.T) {
	assert.Empty(t, ParseParaphrases("\n\n  \n", "q", 3))
	assert.Empty(t, ParseParaphrases("Q?\nq", "q", 3))
}

func TestParseExtraction(t *testing.T) {
	assert.Equal(t, "", ParseExtraction("NO_OUTPUT"))
	assert.Equal(t, "", ParseExtraction("  no_output. "))
	assert.Equal(t, "", ParseExtraction(""))
	assert.Equal(t, "Section 2 applies.", ParseExtraction(" Section 2 applies.\n"))
}
