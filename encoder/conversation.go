// Package encoder turns conversations into token sequences with a parallel
// trainable mask, driven entirely by a resolved grammar. Encoding is a pure
// function of its inputs: a resolved grammar is read-only and one Encoder can
// serve many goroutines encoding disjoint conversations.
package encoder

import (
	"strings"
)

// Role tags one conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// SpanKind distinguishes text spans from media placeholder spans.
type SpanKind string

const (
	SpanText  SpanKind = "text"
	SpanImage SpanKind = "image"
	SpanVideo SpanKind = "video"
	SpanAudio SpanKind = "audio"
)

// Span is one typed region of turn content: literal text, or a placeholder
// standing in for external media identified by Ref.
type Span struct {
	Kind SpanKind
	Text string
	Ref  string
}

// Turn is one message in a conversation.
type Turn struct {
	Role  Role
	Spans []Span
}

// TextTurn builds a plain-text turn.
func TextTurn(role Role, text string) Turn {
	return Turn{Role: role, Spans: []Span{{Kind: SpanText, Text: text}}}
}

// Text concatenates the turn's text spans.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, span := range t.Spans {
		if span.Kind == SpanText {
			sb.WriteString(span.Text)
		}
	}
	return sb.String()
}

// Conversation is an ordered sequence of turns. At most one system turn is
// allowed and it must come first; after it, user-side turns (user or tool)
// alternate with assistant turns.
type Conversation struct {
	Turns []Turn
}

func isUserSide(role Role) bool {
	return role == RoleUser || role == RoleTool
}

// Validate checks the turn ordering rules. It returns a *SchemaError on any
// violation.
func (c *Conversation) Validate() error {
	if len(c.Turns) == 0 {
		return &SchemaError{Reason: "conversation has no turns"}
	}
	for i, turn := range c.Turns {
		switch turn.Role {
		case RoleSystem:
			if i != 0 {
				return &SchemaError{Reason: "system turn must be first"}
			}
		case RoleUser, RoleAssistant, RoleTool:
		default:
			return &SchemaError{Reason: "unknown role " + string(turn.Role)}
		}
	}
	turns := c.Turns
	if turns[0].Role == RoleSystem {
		turns = turns[1:]
		if len(turns) == 0 {
			return &SchemaError{Reason: "conversation has only a system turn"}
		}
	}
	// Tool turns count as user-side for alternation.
	for i, turn := range turns {
		wantUser := i%2 == 0
		if wantUser != isUserSide(turn.Role) {
			return &SchemaError{Reason: "turns must alternate user/assistant"}
		}
	}
	return nil
}

// round is one user-side turn with its assistant response. The response is
// nil only for the final round of a generation-style conversation.
type round struct {
	query    Turn
	response *Turn
}

// splitRounds separates the optional system turn and pairs the remainder
// into rounds. Validate must have passed.
func (c *Conversation) splitRounds() (system string, hasSystem bool, rounds []round) {
	turns := c.Turns
	if len(turns) > 0 && turns[0].Role == RoleSystem {
		system = turns[0].Text()
		hasSystem = true
		turns = turns[1:]
	}
	for i := 0; i < len(turns); i += 2 {
		r := round{query: turns[i]}
		if i+1 < len(turns) {
			r.response = &turns[i+1]
		}
		rounds = append(rounds, r)
	}
	return system, hasSystem, rounds
}
