package domain

import (
	"encoding/json"
	"fmt"
)

// Generation config discriminator values, carried in the "object" field.
const (
	ObjectLLMGenConfig    = "gen_config.llm"
	ObjectEmbedGenConfig  = "gen_config.embed"
	ObjectCodeGenConfig   = "gen_config.code"
	ObjectPythonGenConfig = "gen_config.python"
)

// GenConfig is the tagged union of generation configurations. A column is an
// output column iff it carries one. Dispatch over the union is exhaustive in
// the cell executor.
type GenConfig interface {
	Object() string
}

// LLMGenConfig configures a chat-completion column. Prompt strings reference
// upstream cells with ${col}; a preceding backslash escapes the reference.
type LLMGenConfig struct {
	Model           string     `json:"model"`
	SystemPrompt    string     `json:"system_prompt"`
	UserPrompt      string     `json:"prompt"`
	MultiTurn       bool       `json:"multi_turn"`
	RAGParams       *RAGParams `json:"rag_params,omitempty"`
	Temperature     float64    `json:"temperature,omitempty"`
	TopP            float64    `json:"top_p,omitempty"`
	MaxTokens       int        `json:"max_tokens,omitempty"`
	ReasoningEffort string     `json:"reasoning_effort,omitempty"`
}

func (c *LLMGenConfig) Object() string { return ObjectLLMGenConfig }

// EmbedGenConfig configures an embedding column fed by a source column.
type EmbedGenConfig struct {
	EmbeddingModel string `json:"embedding_model"`
	SourceColumn   string `json:"source_column"`
}

func (c *EmbedGenConfig) Object() string { return ObjectEmbedGenConfig }

// CodeGenConfig configures a column that interprets the source cell value as
// program text.
type CodeGenConfig struct {
	SourceColumn string `json:"source_column"`
}

func (c *CodeGenConfig) Object() string { return ObjectCodeGenConfig }

// PythonGenConfig configures a column computed by a fixed program over every
// data column to the left of itself.
type PythonGenConfig struct {
	Code string `json:"code"`
}

func (c *PythonGenConfig) Object() string { return ObjectPythonGenConfig }

type genConfigEnvelope struct {
	Object string `json:"object"`
}

// UnmarshalGenConfig decodes a generation config from its JSON envelope.
func UnmarshalGenConfig(data []byte) (GenConfig, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var env genConfigEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode gen config envelope: %w", err)
	}
	var cfg GenConfig
	switch env.Object {
	case ObjectLLMGenConfig:
		cfg = &LLMGenConfig{}
	case ObjectEmbedGenConfig:
		cfg = &EmbedGenConfig{}
	case ObjectCodeGenConfig:
		cfg = &CodeGenConfig{}
	case ObjectPythonGenConfig:
		cfg = &PythonGenConfig{}
	default:
		return nil, fmt.Errorf("unknown gen config object %q", env.Object)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", env.Object, err)
	}
	return cfg, nil
}

// MarshalGenConfig encodes a generation config with its discriminator.
func MarshalGenConfig(cfg GenConfig) ([]byte, error) {
	if cfg == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	m["object"] = cfg.Object()
	return json.Marshal(m)
}

type columnMetaJSON struct {
	ID     string          `json:"id"`
	Dtype  Dtype           `json:"dtype"`
	Order  int             `json:"column_order"`
	GenRaw json.RawMessage `json:"gen_config,omitempty"`
}

// MarshalJSON encodes the column including its tagged generation config.
func (c ColumnMeta) MarshalJSON() ([]byte, error) {
	out := columnMetaJSON{ID: c.ID, Dtype: c.Dtype, Order: c.Order}
	if c.Gen != nil {
		raw, err := MarshalGenConfig(c.Gen)
		if err != nil {
			return nil, err
		}
		out.GenRaw = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the column and its tagged generation config.
func (c *ColumnMeta) UnmarshalJSON(data []byte) error {
	var in columnMetaJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	cfg, err := UnmarshalGenConfig(in.GenRaw)
	if err != nil {
		return fmt.Errorf("column %q: %w", in.ID, err)
	}
	*c = ColumnMeta{ID: in.ID, Dtype: in.Dtype, Order: in.Order, Gen: cfg}
	return nil
}
