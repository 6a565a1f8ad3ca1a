package rag

import (
	"fmt"
	"strings"
	"time"
)

// Query rewrite prompts. The rewriters preserve named entities, quote
// multi-word phrases for FTS, resolve relative dates against the provided
// current timestamp, and produce one natural-language paraphrase for VS.

const ftsRewriteSystemPrompt = `You are an advanced search query generation system. Your purpose is to translate user questions and conversational context into precise query components optimized for an information retrieval system using keyword-based Full-Text Search (FTS).

Your primary tasks are:
1.  **Analyze Intent:** Deeply understand the user's information need expressed in their query and any relevant conversation history.
2.  **Extract Key Information:** Identify critical keywords, named entities (people, places, organizations, dates), specific technical terms, and core concepts.
3.  **Disambiguate:** Resolve ambiguities based on context.
4.  **Generate Direct Query Output:** Produce a direct answer containing the rewritten FTS query string.

Accuracy, relevance, and appropriate optimization for keyword search are paramount.`

const vsRewriteSystemPrompt = `You are an advanced search query generation system. Your purpose is to translate user questions and conversational context into precise query components optimized for an information retrieval system using semantic Vector Search (VS).

Your primary tasks are:
1.  **Analyze Intent:** Deeply understand the user's information need expressed in their query and any relevant conversation history.
2.  **Extract Key Information:** Identify critical keywords, named entities (people, places, organizations, dates), specific technical terms, and core concepts.
3.  **Disambiguate:** Resolve ambiguities based on context.
4.  **Generate Direct Query Output:** Produce a direct answer containing one query string optimized for capturing semantic meaning and nuance for vector embedding similarity search. It should be a well-formed natural language sentence or question reflecting the user's core intent.

Accuracy, relevance, and appropriate optimization for semantic search are paramount.`

func ftsRewriteUserPrompt(query string, now time.Time) string {
	return fmt.Sprintf(`"user_query": %q,
"current_datetime": %q

Instructions:
Analyze the user_query, considering the current_datetime for temporal references. Generate a direct query string containing the rewritten query optimized for FTS, keeping in mind that stemming is active. Follow these steps precisely:

1.  **Identify Core Concepts:** Extract the most important terms representing the subject, action and key context. Include essential nouns, verbs, entities, codes and identifiers.
2.  **Handle Phrases:** Enclose multi-word terms crucial to the meaning in double quotes, e.g. "connection pool".
3.  **Use Synonyms (OR - Strategically):** Use OR only for genuinely distinct synonyms that will not stem to the same root (e.g. bug OR defect). Never for simple word variations the stemmer handles.
4.  **Convert Dates:** Resolve relative temporal references against current_datetime into absolute numeric formats (YYYY or YYYY-MM-DD).
5.  **Combine Terms:** Join keywords, quoted phrases and OR groups with spaces.
6.  **Filter Noise but Preserve Meaning:** Drop generic filler words unless they are part of an essential quoted phrase.

Reply ONLY with the generated FTS query string. Do not include explanations, reasoning, markdown formatting, or any text outside the final FTS query, in the original query language.

Now generate the query:`, query, now.Format(time.RFC3339))
}

func vsRewriteUserPrompt(query string, now time.Time) string {
	return fmt.Sprintf(`"user_query": %q,
"current_datetime": %q

Instructions:
Analyze the user_query, considering the current_datetime for temporal references. Generate a direct query string containing the vector query for vector search.

1.  **vector_query**:
    *   Create a natural language sentence or question that captures the core semantic meaning and intent of the user_query.
    *   This query should be suitable for generating an embedding for vector similarity search.
    *   Retain natural language phrasing for concepts, including relative time expressions if they better represent the user's intent semantically.

Reply ONLY with the generated VS query. Do not include explanations, reasoning, markdown formatting, or any text outside the final VS query.

Now generate the query:`, query, now.Format(time.RFC3339))
}

const citationInstruction = "\n" +
	"When any sentence in your answer is supported by or refers to one or more documents inside <up-to-date-context>, " +
	"append inline citations using Pandoc-style `[@<id>]` for each supporting document at the end of that sentence, " +
	"immediately before the sentence-ending punctuation. " +
	"Use the exact <id> from each <document> and never invent IDs. " +
	"Arrange the citations from most to least relevant. " +
	"If multiple documents support the sentence, include multiple citations delimited by semicolons `[@<id-1>; @<id-2>]`. " +
	"Always separate the text and citations with one space, ie `<text> [@<id>]`. " +
	"Do not cite for general knowledge, your own reasoning, or content not found in the provided documents. " +
	"\n" +
	"For example:" +
	"\n" +
	"- \"London is the capital of England.\"\n" +
	"- \"The merger was completed in Q3 [@4].\"\n" +
	"- \"Revenue was $8.2 million [@7; @1].\"\n"

// renderContext renders the retrieved chunks into the grounded context block
// spliced ahead of the user prompt.
func renderContext(chunks []chunkView) string {
	var b strings.Builder
	b.WriteString("<up-to-date-context>\n\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "<document>\n\n<title> %s </title>\n<id> %d </id>\n<page-number> %d </page-number>\n<content>\n", c.Title, i, c.Page)
		for _, kv := range c.Context {
			fmt.Fprintf(&b, "## %s: %s\n", kv[0], kv[1])
		}
		fmt.Fprintf(&b, "\n## Text:\n%s\n\n</content>\n\n</document>\n", c.Text)
		if i < len(chunks)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("\n</up-to-date-context>\n\n")
	return b.String()
}

// chunkView is a chunk prepared for rendering, with context pairs in stable
// order.
type chunkView struct {
	Title   string
	Page    int
	Text    string
	Context [][2]string
}
