package delegation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpm/internal/tickets"
)

func TestTransformUnitTestTodo(t *testing.T) {
	tr := NewTransformer()

	d := tr.Transform(&TodoItem{ID: "t1", Content: "write unit tests for login"})
	require.NotNil(t, d)

	assert.Equal(t, AgentQA, d.Agent)
	assert.Equal(t, "write unit tests for login", d.Task)
	assert.Equal(t, SourceTodoHijacker, d.Source)
	assert.Equal(t, "t1", d.TodoID)
	assert.GreaterOrEqual(t, d.Confidence, 0.1)
	assert.LessOrEqual(t, d.Confidence, 1.0)
}

func TestTransformFieldFallbacks(t *testing.T) {
	tr := NewTransformer()

	d := tr.Transform(&TodoItem{Task: "deploy the staging cluster"})
	require.NotNil(t, d)
	assert.Equal(t, AgentOps, d.Agent)

	d = tr.Transform(&TodoItem{Title: "investigate", Body: "why CI is flaky"})
	require.NotNil(t, d)
	assert.Equal(t, AgentResearch, d.Agent)
	assert.Equal(t, "investigate why CI is flaky", d.Task)
}

func TestTransformDrops(t *testing.T) {
	tr := NewTransformer()

	assert.Nil(t, tr.Transform(nil))
	assert.Nil(t, tr.Transform(&TodoItem{}))
	assert.Nil(t, tr.Transform(&TodoItem{Content: "   "}))
	assert.Nil(t, tr.Transform(&TodoItem{Content: "write tests", Status: "completed"}))
	assert.Nil(t, tr.Transform(&TodoItem{Content: "write tests", Done: true}))
	// No keyword hits at all.
	assert.Nil(t, tr.Transform(&TodoItem{Content: "zzz qqq xxx"}))
}

func TestTransformCarriesItemFields(t *testing.T) {
	tr := NewTransformer()

	d := tr.Transform(&TodoItem{
		ID:       "t9",
		Content:  "fix the login bug",
		Priority: "high",
		Tags:     []string{"auth"},
	})
	require.NotNil(t, d)
	assert.Equal(t, "high", d.Priority)
	assert.Equal(t, []string{"auth"}, d.Labels)
}

func TestEffectiveIDDerivation(t *testing.T) {
	a := &TodoItem{Content: "same content", CreatedAt: "2026-01-01"}
	b := &TodoItem{Content: "same content", CreatedAt: "2026-01-01"}
	c := &TodoItem{Content: "other content", CreatedAt: "2026-01-01"}

	assert.Equal(t, a.EffectiveID(), b.EffectiveID())
	assert.NotEqual(t, a.EffectiveID(), c.EffectiveID())

	d := &TodoItem{ID: "explicit", Content: "same content"}
	assert.Equal(t, "explicit", d.EffectiveID())
}

func TestTransformPMTicketTypeMatch(t *testing.T) {
	tr := NewTransformer()

	tests := []struct {
		typ   tickets.Type
		agent string
	}{
		{tickets.TypeFeature, AgentEngineer},
		{tickets.TypeBug, AgentEngineer},
	}
	for _, tt := range tests {
		d := tr.TransformPMTicket(tickets.Ticket{Type: tt.typ, Title: "do something"})
		require.NotNil(t, d)
		assert.Equal(t, tt.agent, d.Agent)
		assert.Equal(t, 0.8, d.Confidence)
		assert.Equal(t, SourcePMTicket, d.Source)
	}
}

func TestTransformPMTicketFallbackScoring(t *testing.T) {
	tr := NewTransformer()

	d := tr.TransformPMTicket(tickets.Ticket{Type: tickets.TypeTask, Title: "write unit tests for login"})
	require.NotNil(t, d)
	assert.Equal(t, AgentQA, d.Agent)

	assert.Nil(t, tr.TransformPMTicket(tickets.Ticket{Type: tickets.TypeTask, Title: ""}))
}

func TestScoreWeights(t *testing.T) {
	// Multi-word phrase earns words*0.5+1.0; single word earns 1.0.
	scores := ScoreAgents("write unit tests")
	// "unit test" (2.0) + "tests" (1.0) = 3.0 -> 3.0/3 * 0.8
	assert.InDelta(t, 0.8, scores[AgentQA], 1e-9)
}
