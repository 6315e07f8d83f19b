// Package domain defines core domain types, constants, and validation for the
// kbchat pipeline. It acts as the validation gate at pipeline entry points.
package domain

import "fmt"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRoles is the set of recognised message roles.
var ValidRoles = map[Role]bool{
	RoleUser: true, RoleAssistant: true, RoleSystem: true,
}

// Message is one turn of a conversation. History travels with each request;
// nothing is persisted server-side.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Entry is one knowledge-base record as submitted by uploads or manual input.
type Entry struct {
	Category string `json:"category"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Metadata keys carried on every stored document.
const (
	MetaCategory = "category"
	MetaQuestion = "question"
	MetaAnswer   = "answer"
)

// Document is the unit of storage and retrieval. PageContent is the text that
// gets embedded and matched; Metadata carries provenance and is echoed back as
// a citation. Documents are never mutated after insert.
type Document struct {
	PageContent string            `json:"pageContent"`
	Metadata    map[string]string `json:"metadata"`
}

// NewDocument normalizes an entry into the canonical document shape.
func NewDocument(e Entry) Document {
	return Document{
		PageContent: fmt.Sprintf("%s: %s - %s", e.Category, e.Question, e.Answer),
		Metadata: map[string]string{
			MetaCategory: e.Category,
			MetaQuestion: e.Question,
			MetaAnswer:   e.Answer,
		},
	}
}

// Entry reconstructs the record fields from a document's metadata.
func (d Document) Entry() Entry {
	return Entry{
		Category: d.Metadata[MetaCategory],
		Question: d.Metadata[MetaQuestion],
		Answer:   d.Metadata[MetaAnswer],
	}
}

// ScoredDocument is a retrieval hit, highest similarity first.
type ScoredDocument struct {
	Document
	Score float32 `json:"score"`
}

// Citation is the truncated preview of a matched document returned to clients.
type Citation struct {
	PageContent string            `json:"pageContent"`
	Metadata    map[string]string `json:"metadata"`
}

// CitationPreviewLen is how much pageContent a citation exposes.
const CitationPreviewLen = 50

// NewCitation builds a citation preview from a matched document. The preview
// is cut on a rune boundary so multi-byte content stays valid UTF-8.
func NewCitation(d Document) Citation {
	content := d.PageContent
	if r := []rune(content); len(r) > CitationPreviewLen {
		content = string(r[:CitationPreviewLen])
	}
	return Citation{PageContent: content + "...", Metadata: d.Metadata}
}
