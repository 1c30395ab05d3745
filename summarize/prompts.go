package summarize

import (
	"fmt"
	"strings"

	"github.com/qacompanion/qac/artifact"
)

// maxContentRunes bounds the artifact content sent to the model. Keeps
// prompts inside small local-model context windows.
const maxContentRunes = 12000

const summarySystemPrompt = `You are the summarization engine of an engineering knowledge base.
Write a tight technical summary of the artifact you are given, at most 120 words.
No preamble, no markdown headings, no restating the title.`

const askSystemPrompt = `You answer engineering questions from a knowledge base.
Use ONLY the numbered context blocks below the question. Cite every claim with
its block number in square brackets, like [2]. If the context does not answer
the question, say so plainly instead of guessing.`

// summaryInstructions selects the summary angle per artifact kind.
var summaryInstructions = map[artifact.Kind]string{
	artifact.KindSourceCode:  "Summarize what this source file does, its key exported surface, and any invariants it maintains.",
	artifact.KindCommit:      "Summarize this commit: what changed, why, and anything a reviewer would flag as risky.",
	artifact.KindCodeComment: "Summarize what these doc comments promise about the code's behavior.",
	artifact.KindDesignDoc:   "Summarize this design document: the problem, the chosen approach, and unresolved tradeoffs.",
	artifact.KindBugReport:   "Summarize this bug report: symptom, suspected cause, affected area, and current status.",
	artifact.KindTestResult:  "Summarize this test run: what failed, the failure messages, and likely flaky suspects.",
	artifact.KindRCA:         "Summarize this root cause analysis: the incident, the root cause, and the preventive actions.",
	artifact.KindRequirement: "Summarize these declared dependencies or requirements and anything unusual about the versions.",
}

const defaultSummaryInstruction = "Summarize this artifact for an engineer joining the project."

func buildSummaryPrompt(a *artifact.Artifact) string {
	instruction, ok := summaryInstructions[a.Kind]
	if !ok {
		instruction = defaultSummaryInstruction
	}

	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Title: %s\n", a.Title)
	if a.Repo != "" {
		fmt.Fprintf(&b, "Repository: %s\n", a.Repo)
	}
	fmt.Fprintf(&b, "Source: %s\n\n", a.SourceID)
	b.WriteString(truncateRunes(a.Content, maxContentRunes))
	return b.String()
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
