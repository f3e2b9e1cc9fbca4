package session

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// correlationTTL bounds how long a synthesized-id correlation record stays
// usable. Both tables are pruned lazily on access; no background timer.
const correlationTTL = 60 * time.Second

// CommandInputs is the structured payload some events carry alongside a
// tool-call id, used to correlate events reported under different ids.
type CommandInputs struct {
	Command []string
	Cwd     string
}

// recentElicitation records a synthesized permission id so a later event
// that only carries (command, cwd) can resolve to the same canonical id.
type recentElicitation struct {
	canonicalID string
	createdAt   time.Time
	commandKey  string
	cwd         string
}

// ExecApprovalRecord pairs a human-readable approval prompt (which lacks a
// machine id) back to the structured approval event that preceded it.
type ExecApprovalRecord struct {
	CallID    string
	CreatedAt time.Time
	Command   string
	Cwd       string
	ParsedCmd []string
}

// Canonicalizer maps the many identifiers the agent emits for the same
// tool invocation onto one canonical id. Alias entries grow monotonically
// for the life of a logical session; Reset clears everything together.
//
// Not safe for concurrent use; the engine serializes access.
type Canonicalizer struct {
	aliases       map[string]string
	elicitations  []recentElicitation
	execApprovals []ExecApprovalRecord
	now           func() time.Time
	logger        *logger.Logger
}

// NewCanonicalizer creates an empty canonicalizer.
func NewCanonicalizer(log *logger.Logger) *Canonicalizer {
	return &Canonicalizer{
		aliases: make(map[string]string),
		now:     time.Now,
		logger:  log.WithFields(zap.String("component", "toolcall-canonicalizer")),
	}
}

func commandKey(command []string) string {
	b, err := json.Marshal(command)
	if err != nil {
		return ""
	}
	return string(b)
}

// Canonicalize resolves an observed identifier to its canonical id.
//
// Resolution order: known alias, then command+cwd correlation against the
// recent-elicitation table, then the observed id itself, then a fresh
// synthesized id. Never returns an empty id.
func (c *Canonicalizer) Canonicalize(observedID string, inputs *CommandInputs) string {
	if canonical, ok := c.aliases[observedID]; ok && observedID != "" {
		return canonical
	}

	if inputs != nil && len(inputs.Command) > 0 {
		if canonical, ok := c.consumeElicitation(inputs); ok {
			if observedID != "" {
				c.aliases[observedID] = canonical
			}
			return canonical
		}
	}

	if observedID != "" {
		// Canonical ids are idempotent self-aliases.
		c.aliases[observedID] = observedID
		return observedID
	}

	generated := uuid.New().String()
	c.aliases[generated] = generated
	c.logger.Debug("synthesized tool-call id", zap.String("canonical_id", generated))
	return generated
}

// RegisterAliases maps each observed id onto the canonical id.
func (c *Canonicalizer) RegisterAliases(canonicalID string, observedIDs ...string) {
	if canonicalID == "" {
		return
	}
	c.aliases[canonicalID] = canonicalID
	for _, observed := range observedIDs {
		if observed != "" {
			c.aliases[observed] = canonicalID
		}
	}
}

// RememberGeneratedElicitation records that canonicalID was synthesized for
// a permission request over (command, cwd), enabling a later event carrying
// only those inputs to resolve to the same id.
func (c *Canonicalizer) RememberGeneratedElicitation(canonicalID string, command []string, cwd string) {
	c.pruneElicitations()
	c.elicitations = append(c.elicitations, recentElicitation{
		canonicalID: canonicalID,
		createdAt:   c.now(),
		commandKey:  commandKey(command),
		cwd:         cwd,
	})
}

// consumeElicitation searches newest-first for a live record matching the
// inputs; on match the record is removed.
func (c *Canonicalizer) consumeElicitation(inputs *CommandInputs) (string, bool) {
	c.pruneElicitations()
	key := commandKey(inputs.Command)
	for i := len(c.elicitations) - 1; i >= 0; i-- {
		rec := c.elicitations[i]
		if rec.commandKey == key && rec.cwd == inputs.Cwd {
			c.elicitations = append(c.elicitations[:i], c.elicitations[i+1:]...)
			return rec.canonicalID, true
		}
	}
	return "", false
}

func (c *Canonicalizer) pruneElicitations() {
	cutoff := c.now().Add(-correlationTTL)
	live := c.elicitations[:0]
	for _, rec := range c.elicitations {
		if rec.createdAt.After(cutoff) {
			live = append(live, rec)
		}
	}
	c.elicitations = live
}

// RecordExecApproval remembers a structured exec-approval event so a later
// free-text prompt can be paired back to it.
func (c *Canonicalizer) RecordExecApproval(callID string, command []string, cwd string) {
	c.pruneExecApprovals()
	c.execApprovals = append(c.execApprovals, ExecApprovalRecord{
		CallID:    callID,
		CreatedAt: c.now(),
		Command:   commandKey(command),
		Cwd:       cwd,
		ParsedCmd: command,
	})
}

// promptCwdPattern extracts a trailing backtick-quoted path from an approval
// prompt, e.g. "Allow running in `/repo`?".
var promptCwdPattern = regexp.MustCompile("`([^`]+)`\\??\\s*$")

// ConsumeMostRecentExecApproval pairs a human-readable approval prompt back
// to a recorded approval. It first matches by the cwd extracted from the
// prompt text; when no cwd is extractable or nothing matches, it pops the
// most recently recorded approval. This is a heuristic and can mis-pair
// under concurrent approvals in similarly named directories.
func (c *Canonicalizer) ConsumeMostRecentExecApproval(promptText string) *ExecApprovalRecord {
	c.pruneExecApprovals()
	if len(c.execApprovals) == 0 {
		return nil
	}

	if m := promptCwdPattern.FindStringSubmatch(promptText); m != nil {
		cwd := m[1]
		for i := len(c.execApprovals) - 1; i >= 0; i-- {
			if c.execApprovals[i].Cwd == cwd {
				rec := c.execApprovals[i]
				c.execApprovals = append(c.execApprovals[:i], c.execApprovals[i+1:]...)
				return &rec
			}
		}
	}

	// LIFO fallback.
	rec := c.execApprovals[len(c.execApprovals)-1]
	c.execApprovals = c.execApprovals[:len(c.execApprovals)-1]
	return &rec
}

func (c *Canonicalizer) pruneExecApprovals() {
	cutoff := c.now().Add(-correlationTTL)
	live := c.execApprovals[:0]
	for _, rec := range c.execApprovals {
		if rec.CreatedAt.After(cutoff) {
			live = append(live, rec)
		}
	}
	c.execApprovals = live
}

// Reset clears all alias and correlation state. Called when the logical
// session is cleared.
func (c *Canonicalizer) Reset() {
	c.aliases = make(map[string]string)
	c.elicitations = nil
	c.execApprovals = nil
}
