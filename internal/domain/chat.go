package domain

import "strings"

// ChatRole identifies the author of a chat message.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// Content part types for multimodal user messages.
const (
	ContentText       = "text"
	ContentImageURL   = "image_url"
	ContentInputAudio = "input_audio"
)

// ContentPart is one piece of a (possibly multimodal) message.
type ContentPart struct {
	Type string `json:"type"`
	// Text is set for ContentText parts.
	Text string `json:"text,omitempty"`
	// ImageURL is a data URI (base64 with mime prefix) for ContentImageURL.
	ImageURL string `json:"image_url,omitempty"`
	// AudioData / AudioFormat are set for ContentInputAudio.
	AudioData   string `json:"audio_data,omitempty"`
	AudioFormat string `json:"audio_format,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentText, Text: text}
}

// ImagePart builds an image content part from a data URI.
func ImagePart(dataURI string) ContentPart {
	return ContentPart{Type: ContentImageURL, ImageURL: dataURI}
}

// AudioPart builds an audio content part from base64 data and a format such
// as "wav" or "mp3".
func AudioPart(data, format string) ContentPart {
	return ContentPart{Type: ContentInputAudio, AudioData: data, AudioFormat: format}
}

// ChatMessage is one turn of a conversation. Parts is nil for plain-text
// messages, in which case Content holds the text.
type ChatMessage struct {
	Role    ChatRole      `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// Text returns the concatenated text content of the message.
func (m ChatMessage) Text() string {
	if m.Parts == nil {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == ContentText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// MultimodalParts returns the non-text parts of the message.
func (m ChatMessage) MultimodalParts() []ContentPart {
	var out []ContentPart
	for _, p := range m.Parts {
		if p.Type != ContentText {
			out = append(out, p)
		}
	}
	return out
}

// SystemMessage builds a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// UserMessage builds a plain-text user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// UserParts builds a multimodal user message.
func UserParts(parts []ContentPart) ChatMessage {
	return ChatMessage{Role: RoleUser, Parts: parts}
}

// AssistantMessage builds an assistant message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// RAGParams configures retrieval-augmented prompt construction for a chat
// cell.
type RAGParams struct {
	TableID         string `json:"knowledge_table_id"`
	K               int    `json:"k"`
	RerankingModel  string `json:"reranking_model,omitempty"`
	InlineCitations bool   `json:"inline_citations"`
	FTSQuery        string `json:"fts_query,omitempty"`
	VSQuery         string `json:"vs_query,omitempty"`
}

// Chunk is one retrieved piece of a knowledge table row.
type Chunk struct {
	Text       string            `json:"text"`
	Title      string            `json:"title"`
	Page       int               `json:"page,omitempty"`
	DocumentID string            `json:"document_id"`
	ChunkID    string            `json:"chunk_id"`
	Context    map[string]string `json:"context,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// References holds the retrieval result attached to a chat cell.
type References struct {
	Chunks      []Chunk `json:"chunks"`
	SearchQuery string  `json:"search_query"`
}

// ChatRequest is the assembled request handed to the model router for one
// chat cell.
type ChatRequest struct {
	ID              string        `json:"id"`
	Model           string        `json:"model"`
	Messages        []ChatMessage `json:"messages"`
	RAGParams       *RAGParams    `json:"rag_params,omitempty"`
	Temperature     float64       `json:"temperature,omitempty"`
	TopP            float64       `json:"top_p,omitempty"`
	MaxTokens       int           `json:"max_tokens,omitempty"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
	Stream          bool          `json:"stream"`
}

// LastUserIndex returns the index of the message RAG should replace: the last
// message when it is from the user, else the one before it. Returns -1 when
// the tail of the list has no user message.
func LastUserIndex(messages []ChatMessage) int {
	n := len(messages)
	if n == 0 {
		return -1
	}
	if messages[n-1].Role == RoleUser {
		return n - 1
	}
	if n >= 2 && messages[n-2].Role == RoleUser {
		return n - 2
	}
	return -1
}
