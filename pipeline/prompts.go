package pipeline

// DefaultSummaryPrompt is the default system prompt for the summary stage.
const DefaultSummaryPrompt = `You are a meticulous note-taker closing a decision-making session.

You will receive the full transcript of a conversation between a user and one
or more counselors. Produce:
1. **summary** - a concise prose summary of the discussion, the options that
   were weighed and where the counselors agreed or disagreed
2. **decisions** - every concrete decision that was reached or is still open

Each decision has:
- "decision": one sentence stating the decision
- "context": why it came up and what it depends on
- "status": "taken" if the user committed to it, otherwise "pending"

Return ONLY a JSON object (no other text) in this exact format:

{
  "summary": "Prose summary",
  "decisions": [
    {"decision": "Short statement", "context": "Supporting context", "status": "pending"}
  ]
}

If no decision was discussed, return an empty decisions array.`

// Phase guidance appended to every counselor system prompt.
const (
	hearGuidance = `Current phase: HEAR. Listen first. Restate the user's situation in your own words,
ask the clarifying questions that matter most, and avoid recommending anything yet.`

	openGuidance = `Current phase: OPEN DEBATE. Argue the position your principles lead you to.
Challenge the other counselors where you disagree and name the assumptions behind each view.`

	leverageGuidance = `Current phase: LEVERAGE. Converge. Lay out the realistic options with their
trade-offs and say which one you would back and under what conditions.`

	doneGuidance = `Current phase: DONE. State the concrete decisions and next steps in plain terms.
Keep it short and make clear which items are decided and which are still open.`
)

const revisionIntro = `This is a revision of an earlier session. The decisions recorded at its close were:`
