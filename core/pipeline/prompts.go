package pipeline

import "strings"

const factExtractionPrompt = `You extract objective facts from a conversation transcript.

Return only facts stated in the transcript. Do not infer, estimate, or embellish. Normalize numeric values: ages and years as bare integers, currency amounts as plain integers without separators or symbols.

Name facts with lowercase snake_case keys such as age, retirement_age, portfolio_value, risk_tolerance. Every value is a string.

Respond with JSON matching the required schema: a facts array of {name, value} pairs.`

const reasoningPrompt = `You analyze extracted conversation facts for non-obvious patterns, risks, and opportunities.

Ground every insight in the supplied facts or transcript. Flag contradictions between stated goals and stated constraints. Do not restate the facts; produce analysis.

Respond with plain text, one insight per paragraph.`

const summarizationPrompt = `You write a concise narrative summary of a conversation from its extracted facts and analysis.

Preserve factual fidelity: every claim in the summary must be supported by the supplied facts or insights. Keep the summary under 300 words and suitable for a CRM record.

Respond with plain text.`

func buildFactExtractionInput(transcript string) string {
	return "TRANSCRIPT:\n" + transcript
}

func buildReasoningInput(transcript, facts string) string {
	var b strings.Builder
	b.WriteString("TRANSCRIPT:\n")
	b.WriteString(transcript)
	b.WriteString("\n\nEXTRACTED FACTS:\n")
	b.WriteString(facts)
	return b.String()
}

func buildSummarizationInput(facts, insights string) string {
	var b strings.Builder
	b.WriteString("EXTRACTED FACTS:\n")
	b.WriteString(facts)
	b.WriteString("\n\nINSIGHTS:\n")
	b.WriteString(insights)
	return b.String()
}
