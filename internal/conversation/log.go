// Package conversation holds the append-only turn log shared by the engine,
// the request builder and persisted snapshots.
package conversation

import "encoding/json"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the log. Author names the sub-agent that wrote an
// assistant turn and is empty for user turns.
type Turn struct {
	Role   Role   `json:"role"`
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
}

// Log is an ordered sequence of turns. The zero value is an empty log.
// Turns are never reordered or removed; Append and Merge return a new Log and
// leave the receiver untouched.
type Log struct {
	turns []Turn
}

// NewLog builds a log from persisted turns.
func NewLog(turns []Turn) Log {
	return Log{turns: Merge(nil, turns)}
}

// Append returns a log with t added at the end.
func (l Log) Append(t Turn) Log {
	return Log{turns: Merge(l.turns, []Turn{t})}
}

// Merge returns a log with the round's turns appended verbatim.
func (l Log) Merge(round []Turn) Log {
	return Log{turns: Merge(l.turns, round)}
}

// Len reports the number of turns.
func (l Log) Len() int { return len(l.turns) }

// Turns returns a copy of the turns in order.
func (l Log) Turns() []Turn {
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Last returns the final turn, if any.
func (l Log) Last() (Turn, bool) {
	if len(l.turns) == 0 {
		return Turn{}, false
	}
	return l.turns[len(l.turns)-1], true
}

// Merge appends the turns a server produced for a single round after the
// turns already held locally. A response only ever carries the turns that are
// new to its round, so the local optimistic user turn is never duplicated and
// every assistant reply lands exactly once. Neither input is modified.
func Merge(existing, round []Turn) []Turn {
	out := make([]Turn, 0, len(existing)+len(round))
	out = append(out, existing...)
	out = append(out, round...)
	return out
}

func (l Log) MarshalJSON() ([]byte, error) {
	if l.turns == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.turns)
}

func (l *Log) UnmarshalJSON(data []byte) error {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return err
	}
	l.turns = Merge(nil, turns)
	return nil
}
