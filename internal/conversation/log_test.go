package conversation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_ZeroValueIsEmpty(t *testing.T) {
	var l Log
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Turns())
	_, ok := l.Last()
	assert.False(t, ok)
}

func TestLog_AppendDoesNotMutateReceiver(t *testing.T) {
	base := NewLog([]Turn{{Role: RoleUser, Text: "hi"}})
	next := base.Append(Turn{Role: RoleAssistant, Author: "clarifier", Text: "hello"})

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, next.Len())

	last, ok := next.Last()
	require.True(t, ok)
	assert.Equal(t, "clarifier", last.Author)
}

func TestMerge_OptimisticTurnThenRound(t *testing.T) {
	l := Log{}.Append(Turn{Role: RoleUser, Text: "a"})
	l = l.Merge([]Turn{{Role: RoleAssistant, Text: "r1"}})
	l = l.Append(Turn{Role: RoleUser, Text: "b"})
	l = l.Merge([]Turn{{Role: RoleAssistant, Text: "r2"}})

	assert.Equal(t, []Turn{
		{Role: RoleUser, Text: "a"},
		{Role: RoleAssistant, Text: "r1"},
		{Role: RoleUser, Text: "b"},
		{Role: RoleAssistant, Text: "r2"},
	}, l.Turns())
}

func TestMerge_EmptyRoundIsNoop(t *testing.T) {
	l := NewLog([]Turn{{Role: RoleUser, Text: "a"}})
	assert.Equal(t, l.Turns(), l.Merge(nil).Turns())
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	existing := []Turn{{Role: RoleUser, Text: "a"}}
	round := []Turn{{Role: RoleAssistant, Text: "b"}}

	out := Merge(existing, round)
	out[0].Text = "changed"

	assert.Equal(t, "a", existing[0].Text)
}

func TestTurns_ReturnsCopy(t *testing.T) {
	l := NewLog([]Turn{{Role: RoleUser, Text: "a"}})
	turns := l.Turns()
	turns[0].Text = "x"
	assert.Equal(t, "a", l.Turns()[0].Text)
}

func TestLog_JSON(t *testing.T) {
	data, err := json.Marshal(Log{})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	var l Log
	require.NoError(t, json.Unmarshal([]byte(`[{"role":"assistant","author":"metrics","text":"ok"}]`), &l))
	assert.Equal(t, []Turn{{Role: RoleAssistant, Author: "metrics", Text: "ok"}}, l.Turns())
}
