package session

import "github.com/agentdeck/agentdeck/pkg/codex"

// Identity is the single authoritative copy of session identity for one
// client instance. SessionID doubles as the agent's thread id.
type Identity struct {
	SessionID      string
	ConversationID string
}

// absorb fills unset identity fields from a thread/start or thread/resume
// result. Extraction follows a fixed precedence order: explicit thread
// object, then structured content, then response-level fields, then nested
// content items. The first non-empty match wins; later matches never
// overwrite a set field. ConversationID defaults to SessionID when the
// response never carries one.
func (id *Identity) absorb(result *codex.ThreadStartResult) {
	if result == nil {
		return
	}

	setSession := func(v string) {
		if id.SessionID == "" && v != "" {
			id.SessionID = v
		}
	}
	setConversation := func(v string) {
		if id.ConversationID == "" && v != "" {
			id.ConversationID = v
		}
	}

	if result.Thread != nil {
		setSession(result.Thread.ID)
		setSession(result.Thread.ThreadID)
		setConversation(result.Thread.ConversationID)
	}
	if result.StructuredContent != nil {
		setSession(result.StructuredContent.ThreadID)
		setConversation(result.StructuredContent.ConversationID)
	}
	setSession(result.ThreadID)
	setSession(result.SessionID)
	setConversation(result.ConversationID)
	for _, part := range result.Content {
		setSession(part.ThreadID)
	}

	if id.ConversationID == "" {
		id.ConversationID = id.SessionID
	}
}

// absorbConversationID opportunistically updates from any notification that
// carries a conversation id.
func (id *Identity) absorbConversationID(v string) {
	if id.ConversationID == "" && v != "" {
		id.ConversationID = v
		if id.SessionID == "" {
			id.SessionID = v
		}
	}
}

func (id *Identity) clear() {
	id.SessionID = ""
	id.ConversationID = ""
}
