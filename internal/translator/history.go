package translator

// SanitizeHistory enforces the invariants of spec.md §3 "Conversation
// payload (canonical form)" and §4.2 "Role alternation enforcement" /
// "Tool-call/tool-result pairing" / "Empty-content policy":
//   - strictly alternating user/assistant turns
//   - every assistant tool_use paired with a following user tool_result of
//     identical id, or is the last assistant turn
//   - no orphan tool_result
//   - no empty text content
//
// It is idempotent: sanitizing an already-sanitized history returns it
// unchanged (spec.md §8 invariant 2).
func SanitizeHistory(turns []Turn) []Turn {
	turns = mergeToolResultsIntoUser(turns)
	turns = stripOrphanToolUses(turns)
	turns = dropDuplicateToolResults(turns)
	turns = enforceAlternation(turns)
	turns = fillEmptyContent(turns)
	return turns
}

// mergeToolResultsIntoUser merges any standalone tool-result turn into the
// following user turn's ToolResults (spec.md: "Tool-result messages are
// merged into the next user message's userInputMessageContext.toolResults").
// In our canonical form a tool-result turn is simply a user Turn whose only
// content is ToolResults; this pass merges adjacent such turns together.
func mergeToolResultsIntoUser(turns []Turn) []Turn {
	var out []Turn
	for _, t := range turns {
		if t.Role == RoleUser && len(out) > 0 && out[len(out)-1].Role == RoleUser &&
			isPureToolResultTurn(t) {
			prev := &out[len(out)-1]
			prev.ToolResults = append(prev.ToolResults, t.ToolResults...)
			continue
		}
		out = append(out, t)
	}
	return out
}

func isPureToolResultTurn(t Turn) bool {
	return t.Text == "" && len(t.Images) == 0 && len(t.ToolResults) > 0
}

// stripOrphanToolUses removes assistant tool_use entries with no matching
// tool_result, unless they belong to the most recent assistant turn (which
// is allowed to be "awaiting" its result as the end of history).
func stripOrphanToolUses(turns []Turn) []Turn {
	resultIDs := map[string]bool{}
	for _, t := range turns {
		if t.Role == RoleUser {
			for _, r := range t.ToolResults {
				resultIDs[r.ToolUseID] = true
			}
		}
	}

	lastAssistantIdx := -1
	for i, t := range turns {
		if t.Role == RoleAssistant {
			lastAssistantIdx = i
		}
	}

	for i := range turns {
		if turns[i].Role != RoleAssistant || len(turns[i].ToolUses) == 0 {
			continue
		}
		if i == lastAssistantIdx {
			continue
		}
		kept := turns[i].ToolUses[:0]
		for _, tu := range turns[i].ToolUses {
			if resultIDs[tu.ID] {
				kept = append(kept, tu)
			}
		}
		turns[i].ToolUses = kept
	}
	return turns
}

// dropDuplicateToolResults keeps only the first tool_result for any given
// tool_use id (spec.md: "Duplicate tool-result ids are dropped (first
// wins)").
func dropDuplicateToolResults(turns []Turn) []Turn {
	seen := map[string]bool{}
	for i := range turns {
		if turns[i].Role != RoleUser || len(turns[i].ToolResults) == 0 {
			continue
		}
		kept := turns[i].ToolResults[:0]
		for _, r := range turns[i].ToolResults {
			if seen[r.ToolUseID] {
				continue
			}
			seen[r.ToolUseID] = true
			kept = append(kept, r)
		}
		turns[i].ToolResults = kept
	}
	return turns
}

// enforceAlternation inserts synthetic turns between same-role neighbors so
// the sequence strictly alternates, and ensures history begins with a user
// turn (spec.md: "Between consecutive user messages insert assistant
// 'understood'; between consecutive assistant messages insert user
// 'Continue'").
func enforceAlternation(turns []Turn) []Turn {
	if len(turns) == 0 {
		return turns
	}

	out := make([]Turn, 0, len(turns)+2)
	if turns[0].Role != RoleUser {
		out = append(out, Turn{Role: RoleUser, Text: "Continue"})
	}

	for i, t := range turns {
		if len(out) > 0 && out[len(out)-1].Role == t.Role {
			if t.Role == RoleUser {
				out = append(out, Turn{Role: RoleAssistant, Text: "understood"})
			} else {
				out = append(out, Turn{Role: RoleUser, Text: "Continue"})
			}
		}
		out = append(out, turns[i])
	}

	return out
}

// fillEmptyContent implements spec.md's "Empty-content policy".
func fillEmptyContent(turns []Turn) []Turn {
	for i := range turns {
		t := &turns[i]
		if t.Text != "" || len(t.Images) > 0 {
			continue
		}
		switch t.Role {
		case RoleAssistant:
			if len(t.ToolUses) > 0 {
				t.Text = " "
			} else {
				t.Text = "I understand."
			}
		case RoleUser:
			if len(t.ToolResults) == 0 {
				t.Text = "Continue"
			}
		}
	}
	return turns
}

// SplitCurrentMessage keeps the current user turn out of history (spec.md:
// "history must ... end such that a userInputMessage is the current message
// (not in history)"). If history ends on a user turn it appends a synthetic
// assistant "understood" ack; current is returned unchanged.
func SplitCurrentMessage(turns []Turn, current Turn) (history []Turn, cur Turn) {
	if len(turns) > 0 && turns[len(turns)-1].Role == RoleUser {
		turns = append(turns, Turn{Role: RoleAssistant, Text: "understood"})
	}
	return turns, current
}

// ValidateNoOrphans reports whether history satisfies the no-orphan
// invariants (spec.md §8 invariant 1), for tests and assertions.
func ValidateNoOrphans(turns []Turn) bool {
	resultIDs := map[string]bool{}
	useIDs := map[string]bool{}
	for _, t := range turns {
		if t.Role == RoleUser {
			for _, r := range t.ToolResults {
				resultIDs[r.ToolUseID] = true
			}
		}
		if t.Role == RoleAssistant {
			for _, u := range t.ToolUses {
				useIDs[u.ID] = true
			}
		}
	}
	for id := range resultIDs {
		if !useIDs[id] {
			return false // orphan tool_result
		}
	}
	lastAssistant := -1
	for i, t := range turns {
		if t.Role == RoleAssistant {
			lastAssistant = i
		}
	}
	for i, t := range turns {
		if t.Role != RoleAssistant || i == lastAssistant {
			continue
		}
		for _, u := range t.ToolUses {
			if !resultIDs[u.ID] {
				return false // orphan tool_use outside the last assistant turn
			}
		}
	}
	return true
}
