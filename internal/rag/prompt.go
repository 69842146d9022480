package rag

import (
	"strings"
)

const promptTemplate = `Context information is below.
---------------------
{retrieved_chunks}
---------------------
Given the context information and not prior knowledge, answer the query.
Query: {question}
Answer:`

// chunkSeparator joins retrieved chunks in the context block.
const chunkSeparator = "\n\n"

// BuildPrompt fills the question-answering template with the retrieved chunk
// texts, nearest first, and the question. Placeholder-like text inside chunks
// or the question is left untouched.
func BuildPrompt(chunks []string, question string) string {
	r := strings.NewReplacer(
		"{retrieved_chunks}", strings.Join(chunks, chunkSeparator),
		"{question}", question,
	)
	return r.Replace(promptTemplate)
}
