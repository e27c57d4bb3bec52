package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendPreservesOrder(t *testing.T) {
	tr := New()
	tr.Append(StepPlan, "plan")
	tr.Append(StepToolCall, "call")
	tr.Append(StepToolError, "err")

	assert.Equal(t, []Entry{
		{Step: StepPlan, Detail: "plan"},
		{Step: StepToolCall, Detail: "call"},
		{Step: StepToolError, Detail: "err"},
	}, tr.Entries())
	assert.Equal(t, 3, tr.Len())
	assert.Equal(t, 1, tr.Count(StepToolCall))
}

func TestEntriesReturnsCopy(t *testing.T) {
	tr := New()
	tr.Append(StepPlan, "plan")

	snapshot := tr.Entries()
	snapshot[0].Detail = "mutated"

	assert.Equal(t, "plan", tr.Entries()[0].Detail)
}
