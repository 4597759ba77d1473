package service

import (
	"fmt"
	"strings"
)

const judgeSystemPrompt = "You are a senior technical interviewer grading a candidate's answer. " +
	"Respond with a single JSON object: {\"score\": <number 0-10>, \"feedback\": [<three short strings>]}. " +
	"Feedback lines are plain text without markdown."

const dimensionSystemPrompt = "You are a senior technical interviewer scoring one dimension of a candidate's answer. " +
	"Respond with a single JSON object: {\"score\": <number 0-10>, \"justification\": <one sentence>}."

const feedbackSystemPrompt = "You are a senior technical interviewer writing concise, constructive feedback for a candidate. " +
	"Answer with one plain-text paragraph of at most three sentences."

const testCaseSystemPrompt = "You design test cases for programming interview questions. " +
	"Respond with a JSON object {\"test_cases\": [{\"input\": string, \"expected_output\": string, \"description\": string, \"difficulty\": \"easy\"|\"medium\"|\"hard\"}]}."

const debugRubric = `Scoring rubric:
- 9-10: all tests pass and the fix is clean and idiomatic
- 7-8: all tests pass with minor quality issues
- 5-6: partial pass
- 3-4: mostly failing
- 0-2: no working fix`

const explainRubric = `Score the explanation on:
- accuracy of what the code does
- correctness of the time and space complexity analysis
- quality of the suggested improvements
Rubric: 9-10 precise and complete, 7-8 mostly correct, 5-6 partially correct, 3-4 vague or with errors, 0-2 wrong or missing.`

const schemaRubric = `Score the design on:
- completeness of tables and columns
- relationships and constraints (keys, foreign keys, uniqueness, nullability)
- alignment with the stated requirements
Rubric: 9-10 complete and well constrained, 7-8 minor gaps, 5-6 notable gaps, 3-4 major gaps, 0-2 unusable.`

func debugJudgmentPrompt(title, language, task, buggy, fixed, explanation, evidence string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nLanguage: %s\n", title, language)
	if task != "" {
		fmt.Fprintf(&b, "Task:\n%s\n", task)
	}
	if buggy != "" {
		fmt.Fprintf(&b, "\nOriginal buggy code:\n%s\n", buggy)
	}
	fmt.Fprintf(&b, "\nCandidate fixed code:\n%s\n", fixed)
	if explanation != "" {
		fmt.Fprintf(&b, "\nCandidate explanation:\n%s\n", explanation)
	}
	fmt.Fprintf(&b, "\nExecution evidence:\n%s\n\n%s\n", evidence, debugRubric)
	b.WriteString("Cite the concrete fix or failure in the feedback.")
	return b.String()
}

func explainJudgmentPrompt(title, language, code, analysis string) string {
	return fmt.Sprintf("Question: %s\nLanguage: %s\n\nCode under discussion:\n%s\n\nCandidate analysis:\n%s\n\n%s",
		title, language, code, analysis, explainRubric)
}

func schemaJudgmentPrompt(title, task string, requirements []string, schema, design, queries string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", title)
	if task != "" {
		fmt.Fprintf(&b, "Task:\n%s\n", task)
	}
	if len(requirements) > 0 {
		b.WriteString("\nRequirements:\n")
		for _, req := range requirements {
			fmt.Fprintf(&b, "- %s\n", req)
		}
	}
	fmt.Fprintf(&b, "\nCandidate schema (validated successfully):\n%s\n", schema)
	if design != "" {
		fmt.Fprintf(&b, "\nDesign explanation:\n%s\n", design)
	}
	if queries != "" {
		fmt.Fprintf(&b, "\nExample queries and results:\n%s\n", queries)
	}
	fmt.Fprintf(&b, "\n%s", schemaRubric)
	return b.String()
}

func technicalVocabularyPrompt(question, reference, answer string) string {
	prompt := fmt.Sprintf("Question: %s\n\nCandidate answer:\n%s\n\n", question, answer)
	if reference != "" {
		prompt += fmt.Sprintf("Reference answer:\n%s\n\n", reference)
	}
	return prompt + "Score the technical vocabulary: correct use of domain terms, precision and depth."
}

func grammarFlowPrompt(question, answer string) string {
	return fmt.Sprintf("Question: %s\n\nCandidate answer:\n%s\n\n"+
		"Score grammar, coherence and relevance: correct sentences, logical flow, and whether the answer addresses the question.",
		question, answer)
}

func oralDimensionPrompt(dimension, question, response string, wordCount, sentenceCount int) string {
	focus := map[string]string{
		"relevance":            "how directly the response addresses the question",
		"technical_vocabulary": "correct and precise use of technical terms",
		"coherence":            "logical structure and flow of the spoken answer",
		"clarity":              "how clear and easy to follow the answer is for a listener",
	}[dimension]
	return fmt.Sprintf("Interviewer question: %s\n\nTranscribed candidate response (%d words, %d sentences):\n%s\n\nScore %s: %s.",
		question, wordCount, sentenceCount, response, strings.ReplaceAll(dimension, "_", " "), focus)
}

func openFeedbackPrompt(question, answer string, scores ...DimensionScore) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nCandidate answer:\n%s\n\nScores:\n", question, answer)
	for _, s := range scores {
		fmt.Fprintf(&b, "- %s: %.1f/10 (%s)\n", strings.ReplaceAll(s.Dimension, "_", " "), s.Score, s.Justification)
	}
	b.WriteString("\nWrite feedback covering strengths and the most important improvement.")
	return b.String()
}

func summaryPrompt(candidate, header string, overall float64, lines []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Candidate: %s\n%s\nOverall score: %.2f/10\n\nPer-question notes:\n", candidate, header, overall)
	for _, line := range lines {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	b.WriteString("\nSummarize the candidate's performance for a hiring manager.")
	return b.String()
}

// joinFeedback builds a sentence-per-phrase paragraph from justifications.
func joinFeedback(parts ...string) string {
	sentences := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimRight(strings.TrimSpace(part), ".")
		if part != "" {
			sentences = append(sentences, part+".")
		}
	}
	return strings.Join(sentences, " ")
}
