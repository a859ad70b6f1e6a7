// Package prompt renders the question-answering prompt shared by all
// generators. Context always precedes the question and both are passed
// verbatim.
package prompt

import (
	"strings"

	"docqa/internal/domain"
)

// System is the instruction given to chat-style models.
const System = "You answer questions about a document the user uploaded. " +
	"Use only the provided context. If the context does not contain the answer, say so."

// Build renders the user turn for req.
func Build(req domain.GenerateRequest) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	if strings.TrimSpace(req.Context) == "" {
		b.WriteString("(no relevant context found)")
	} else {
		b.WriteString(req.Context)
	}
	b.WriteString("\n\nQuestion: ")
	b.WriteString(req.Question)
	return b.String()
}
