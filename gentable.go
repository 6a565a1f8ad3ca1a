// Package gentable is the public facade of the generative table execution
// core: a dependency-aware, streaming engine that computes the output cells
// of spreadsheet-like tables via language models, embedding models and code
// cells.
package gentable

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/gridify/gentable/internal/application/executor"
	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/infrastructure/code"
	"github.com/gridify/gentable/internal/infrastructure/files"
	"github.com/gridify/gentable/internal/infrastructure/monitoring"
	"github.com/gridify/gentable/internal/infrastructure/search"
	"github.com/gridify/gentable/internal/infrastructure/storage"
)

// Re-exported domain types, so embedding callers do not need to reach into
// internal packages.
type (
	Row                        = domain.Row
	Table                      = domain.Table
	Schema                     = domain.Schema
	ColumnMeta                 = domain.ColumnMeta
	Dtype                      = domain.Dtype
	GenConfig                  = domain.GenConfig
	LLMGenConfig               = domain.LLMGenConfig
	EmbedGenConfig             = domain.EmbedGenConfig
	CodeGenConfig              = domain.CodeGenConfig
	PythonGenConfig            = domain.PythonGenConfig
	RAGParams                  = domain.RAGParams
	RegenStrategy              = domain.RegenStrategy
	AddRowsRequest             = domain.AddRowsRequest
	RegenRowsRequest           = domain.RegenRowsRequest
	MultiRowCompletionResponse = domain.MultiRowCompletionResponse
	Router                     = domain.Router
	TableStore                 = domain.TableStore
)

// Regen strategies.
const (
	RegenRunAll      = domain.RegenRunAll
	RegenRunSelected = domain.RegenRunSelected
	RegenRunBefore   = domain.RegenRunBefore
	RegenRunAfter    = domain.RegenRunAfter
)

// TableCreator is implemented by stores that can register table metadata.
type TableCreator interface {
	CreateTable(ctx context.Context, table *domain.Table) error
}

// Options configures an embedded engine. Router is required; Store,
// Knowledge, Files, Docs and Code default to in-process implementations,
// and Billing is left unset when nil.
type Options struct {
	Router        domain.Router
	Store         domain.TableStore
	Knowledge     domain.KnowledgeProvider
	Files         domain.URIReader
	Docs          domain.DocLoader
	Code          domain.CodeRunner
	Billing       domain.BillingCollector
	ProjectID     string
	CellCeiling   int
	MaxWriteBatch int
}

// Engine executes add and regen batches against a table store.
type Engine struct {
	caps      executor.Capabilities
	cfg       executor.OrchestratorConfig
	projectID string
}

// NewEngine creates an embedded engine.
func NewEngine(opts Options) *Engine {
	if opts.Store == nil {
		opts.Store = storage.NewMemoryStore()
	}
	if opts.Knowledge == nil {
		opts.Knowledge = search.NewProvider(opts.Store)
	}
	if opts.Files == nil {
		opts.Files = files.NewLocalURIReader()
	}
	if opts.Docs == nil {
		opts.Docs = files.PlainDocLoader{}
	}
	if opts.Code == nil {
		opts.Code = code.NewExprRunner()
	}
	if opts.ProjectID == "" {
		opts.ProjectID = "default"
	}
	cfg := executor.DefaultOrchestratorConfig()
	if opts.CellCeiling > 0 {
		cfg.CellCeiling = opts.CellCeiling
	}
	if opts.MaxWriteBatch > 0 {
		cfg.MaxWriteBatch = opts.MaxWriteBatch
	}
	return &Engine{
		caps: executor.Capabilities{
			Store:     opts.Store,
			Router:    opts.Router,
			Knowledge: opts.Knowledge,
			Files:     opts.Files,
			Docs:      opts.Docs,
			Code:      opts.Code,
			Billing:   opts.Billing,
			Observers: monitoring.NewObserverManager(),
			Metrics:   monitoring.NewUsageCollector(),
		},
		cfg:       cfg,
		projectID: opts.ProjectID,
	}
}

// Store returns the engine's table store.
func (e *Engine) Store() domain.TableStore {
	return e.caps.Store
}

// CreateTable registers a table when the underlying store supports it.
func (e *Engine) CreateTable(ctx context.Context, table *Table) error {
	creator, ok := e.caps.Store.(TableCreator)
	if !ok {
		return nil
	}
	if table.ProjectID == "" {
		table.ProjectID = e.projectID
	}
	return creator.CreateTable(ctx, table)
}

func (e *Engine) addOrchestrator(ctx context.Context, req *AddRowsRequest) (*executor.Orchestrator, error) {
	table, err := e.caps.Store.OpenTable(ctx, e.projectID, req.TableID)
	if err != nil {
		return nil, err
	}
	return executor.NewAddOrchestrator(e.caps, e.cfg, table, e.projectID, uuid.NewString(), req)
}

func (e *Engine) regenOrchestrator(ctx context.Context, req *RegenRowsRequest) (*executor.Orchestrator, error) {
	table, err := e.caps.Store.OpenTable(ctx, e.projectID, req.TableID)
	if err != nil {
		return nil, err
	}
	return executor.NewRegenOrchestrator(e.caps, e.cfg, table, e.projectID, uuid.NewString(), req)
}

// AddRows adds and generates rows, returning the aggregate response.
func (e *Engine) AddRows(ctx context.Context, req *AddRowsRequest) (*MultiRowCompletionResponse, error) {
	o, err := e.addOrchestrator(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx)
}

// AddRowsStream adds and generates rows, writing SSE events to w.
func (e *Engine) AddRowsStream(ctx context.Context, req *AddRowsRequest, w io.Writer) error {
	req.Stream = true
	o, err := e.addOrchestrator(ctx, req)
	if err != nil {
		return err
	}
	return o.Stream(ctx, w)
}

// RegenRows regenerates rows, returning the aggregate response.
func (e *Engine) RegenRows(ctx context.Context, req *RegenRowsRequest) (*MultiRowCompletionResponse, error) {
	o, err := e.regenOrchestrator(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx)
}

// RegenRowsStream regenerates rows, writing SSE events to w.
func (e *Engine) RegenRowsStream(ctx context.Context, req *RegenRowsRequest, w io.Writer) error {
	req.Stream = true
	o, err := e.regenOrchestrator(ctx, req)
	if err != nil {
		return err
	}
	return o.Stream(ctx, w)
}
