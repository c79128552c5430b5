package rpc

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/consolidation"
	"github.com/fyrsmithlabs/memoryd/internal/health"
	"github.com/fyrsmithlabs/memoryd/internal/memerr"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/query"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// Dispatcher routes a Request to the store/query/health component that
// implements it and marshals the result back to the wire shape. It
// holds no transport-specific state, so the same Dispatcher backs both
// pkg/rpc/stdio and pkg/rpc/http.
type Dispatcher struct {
	store   *store.Store
	planner *query.Planner
	health  *health.Checker
	engine  *consolidation.Engine
	logger  *zap.Logger
}

// New builds a Dispatcher. logger may be nil.
func New(s *store.Store, planner *query.Planner, checker *health.Checker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{store: s, planner: planner, health: checker, logger: logger}
}

// WithEngine attaches the consolidation engine backing OpConsolidateNow.
// Without it, that op returns a NotFound error — the daemon always
// sets it, but tests that only exercise the core CRUD/query ops need
// not build a full engine.
func (d *Dispatcher) WithEngine(engine *consolidation.Engine) *Dispatcher {
	d.engine = engine
	return d
}

// Handle executes req and always returns a well-formed Response: a
// malformed params payload or a handler error both become an
// ErrorObject on the response rather than a Go error, since the wire
// contract has no channel for transport-level failures distinct from
// the {kind, message, retryable} envelope.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	result, err := d.dispatch(ctx, req)
	if err != nil {
		d.logger.Debug("rpc call failed", zap.String("op", string(req.Op)), zap.String("id", req.ID), zap.Error(err))
		return Response{ID: req.ID, Error: NewErrorObject(err)}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: NewErrorObject(memerr.Wrap(memerr.Corruption, err, "marshaling result"))}
	}
	return Response{ID: req.ID, Result: raw}
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Op {
	case OpStore:
		return d.handleStore(ctx, req.Params)
	case OpGetByHash:
		return d.handleGetByHash(ctx, req.Params)
	case OpUpdate:
		return d.handleUpdate(ctx, req.Params)
	case OpDelete:
		return d.handleDelete(ctx, req.Params)
	case OpDeleteByTags:
		return d.handleDeleteByTags(ctx, req.Params)
	case OpRetrieve:
		return d.handleRetrieve(ctx, req.Params)
	case OpRecall:
		return d.handleRecall(ctx, req.Params)
	case OpSearchByTag:
		return d.handleSearchByTag(ctx, req.Params)
	case OpExactMatch:
		return d.handleExactMatch(ctx, req.Params)
	case OpDebugRetrieve:
		return d.handleDebugRetrieve(ctx, req.Params)
	case OpStats:
		return d.handleStats(ctx)
	case OpHealthCheck:
		return d.handleHealthCheck(ctx, req.Params)
	case OpConsolidateNow:
		return d.handleConsolidateNow(ctx, req.Params)
	default:
		return nil, memerr.New(memerr.Invalid, "unknown operation %q", req.Op)
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return memerr.Wrap(memerr.Invalid, err, "decoding params")
	}
	return nil
}

// StoreParams is the wire form of store.Input.
type StoreParams struct {
	Content    string         `json:"content"`
	Tags       []string       `json:"tags,omitempty"`
	MemoryType string         `json:"memory_type,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ClientHost string         `json:"client_hostname,omitempty"`
}

type protocolHintKey struct{}

// WithProtocolHint attaches a transport-supplied hostname hint (spec
// §4.C10's second precedence tier, e.g. a well-known request header)
// to ctx. A transport that has such a hint should wrap the context
// before calling Dispatcher.Handle for a store request.
func WithProtocolHint(ctx context.Context, hint string) context.Context {
	if hint == "" {
		return ctx
	}
	return context.WithValue(ctx, protocolHintKey{}, hint)
}

func protocolHintFromContext(ctx context.Context) string {
	h, _ := ctx.Value(protocolHintKey{}).(string)
	return h
}

// StoreResult is store()'s {content_hash, success, duplicate} result.
type StoreResult struct {
	ContentHash string `json:"content_hash"`
	Success     bool   `json:"success"`
	Duplicate   bool   `json:"duplicate"`
}

func (d *Dispatcher) handleStore(ctx context.Context, raw json.RawMessage) (any, error) {
	var p StoreParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	hash, created, err := d.store.Store(ctx, store.Input{
		Content:      p.Content,
		Tags:         p.Tags,
		MemoryType:   memory.MemoryType(p.MemoryType),
		Metadata:     p.Metadata,
		Hostname:     p.ClientHost,
		ProtocolHint: protocolHintFromContext(ctx),
	})
	if err != nil {
		return nil, err
	}
	return StoreResult{ContentHash: hash, Success: true, Duplicate: !created}, nil
}

// GetByHashParams requests a single memory by content hash.
type GetByHashParams struct {
	Hash string `json:"hash"`
}

func (d *Dispatcher) handleGetByHash(ctx context.Context, raw json.RawMessage) (any, error) {
	var p GetByHashParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Hash == "" {
		return nil, memerr.New(memerr.Invalid, "hash must not be empty")
	}
	m, err := d.store.GetByHash(ctx, p.Hash)
	if err != nil {
		return nil, err
	}
	return toWireMemory(m), nil
}

// UpdateParams is the wire form of store.Update, keyed by hash. A nil
// field leaves the existing value unchanged (spec §4.C3 update()).
type UpdateParams struct {
	Hash       string         `json:"hash"`
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	MemoryType string         `json:"memory_type,omitempty"`
}

func (d *Dispatcher) handleUpdate(ctx context.Context, raw json.RawMessage) (any, error) {
	var p UpdateParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Hash == "" {
		return nil, memerr.New(memerr.Invalid, "hash must not be empty")
	}
	if err := d.store.Update(ctx, p.Hash, store.Update{
		Tags:       p.Tags,
		Metadata:   p.Metadata,
		MemoryType: memory.MemoryType(p.MemoryType),
	}); err != nil {
		return nil, err
	}
	m, err := d.store.GetByHash(ctx, p.Hash)
	if err != nil {
		return nil, err
	}
	return toWireMemory(m), nil
}

// DeleteParams names the memory to archive.
type DeleteParams struct {
	Hash string `json:"hash"`
}

// DeleteResult is delete()'s {deleted: bool} result.
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}

func (d *Dispatcher) handleDelete(ctx context.Context, raw json.RawMessage) (any, error) {
	var p DeleteParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := d.store.Delete(ctx, p.Hash); err != nil {
		return nil, err
	}
	return DeleteResult{Deleted: true}, nil
}

// DeleteByTagsParams bulk-archives every memory matching the tag
// filter (spec §4.C3 delete_by_tags()).
type DeleteByTagsParams struct {
	Tags []string `json:"tags"`
	Mode string   `json:"mode,omitempty"` // "ANY" (default) or "ALL"
}

// DeleteByTagsResult reports how many and which memories were
// archived.
type DeleteByTagsResult struct {
	Count         int      `json:"count"`
	ContentHashes []string `json:"content_hashes"`
}

func (d *Dispatcher) handleDeleteByTags(ctx context.Context, raw json.RawMessage) (any, error) {
	var p DeleteByTagsParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	mode := store.TagAny
	if p.Mode == string(store.TagAll) {
		mode = store.TagAll
	}
	hashes, err := d.store.DeleteByTags(ctx, p.Tags, mode)
	if err != nil {
		return nil, err
	}
	return DeleteByTagsResult{Count: len(hashes), ContentHashes: hashes}, nil
}

// RetrieveParams is retrieve()'s params: semantic search over
// query_text (spec §4.C6).
type RetrieveParams struct {
	QueryText string     `json:"query_text"`
	K         int        `json:"k"`
	MinScore  *float64   `json:"min_score,omitempty"`
	Filter    WireFilter `json:"filter,omitempty"`
}

func (d *Dispatcher) handleRetrieve(ctx context.Context, raw json.RawMessage) (any, error) {
	var p RetrieveParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	matches, err := d.planner.Retrieve(ctx, p.QueryText, p.K, p.MinScore, p.Filter.toStoreFilter())
	if err != nil {
		return nil, err
	}
	return toWireMatches(matches), nil
}

// RecallParams is recall()'s params: a natural-language time phrase
// plus optional residual-text embedding (spec §4.C6).
type RecallParams struct {
	Phrase string     `json:"phrase"`
	K      int        `json:"k"`
	Filter WireFilter `json:"filter,omitempty"`
}

func (d *Dispatcher) handleRecall(ctx context.Context, raw json.RawMessage) (any, error) {
	var p RecallParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	matches, err := d.planner.Recall(ctx, p.Phrase, p.K, p.Filter.toStoreFilter())
	if err != nil {
		return nil, err
	}
	return toWireMatches(matches), nil
}

// SearchByTagParams is search_by_tag()'s params (spec §4.C6).
type SearchByTagParams struct {
	Tags   []string   `json:"tags"`
	Mode   string     `json:"mode,omitempty"` // "ANY" (default) or "ALL"
	Filter WireFilter `json:"filter,omitempty"`
}

func (d *Dispatcher) handleSearchByTag(ctx context.Context, raw json.RawMessage) (any, error) {
	var p SearchByTagParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	mode := store.TagAny
	if p.Mode == string(store.TagAll) {
		mode = store.TagAll
	}
	memories, err := d.planner.SearchByTag(ctx, p.Tags, mode, p.Filter.toStoreFilter())
	if err != nil {
		return nil, err
	}
	out := make([]WireMemory, len(memories))
	for i, m := range memories {
		out[i] = toWireMemory(m)
	}
	return out, nil
}

// ExactMatchParams is exact_match()'s params (spec §4.C6).
type ExactMatchParams struct {
	Text string `json:"text"`
}

func (d *Dispatcher) handleExactMatch(ctx context.Context, raw json.RawMessage) (any, error) {
	var p ExactMatchParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	m, err := d.planner.ExactMatch(ctx, p.Text)
	if err != nil {
		return nil, err
	}
	return toWireMemory(m), nil
}

// DebugRetrieveParams is debug_retrieve()'s params (spec §4.C6).
type DebugRetrieveParams struct {
	QueryText string `json:"query_text"`
	K         int    `json:"k"`
}

// DebugRetrieveResult surfaces the raw ranked matches plus the query
// embedding's first 8 components, for diagnosis.
type DebugRetrieveResult struct {
	Matches       []WireMatch `json:"matches"`
	EmbeddingHead []float32   `json:"embedding_head"`
}

func (d *Dispatcher) handleDebugRetrieve(ctx context.Context, raw json.RawMessage) (any, error) {
	var p DebugRetrieveParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	dr, err := d.planner.DebugRetrieve(ctx, p.QueryText, p.K)
	if err != nil {
		return nil, err
	}
	return DebugRetrieveResult{Matches: toWireMatches(dr.Matches), EmbeddingHead: dr.EmbeddingHead}, nil
}

// StatsResult is stats()'s result (spec §4.C3).
type StatsResult struct {
	LiveCount      int `json:"live_count"`
	ArchivedCount  int `json:"archived_count"`
	EmbeddingCount int `json:"embedding_count"`
	TagCount       int `json:"tag_count"`
	ANNCount       int `json:"ann_count"`
}

func (d *Dispatcher) handleStats(ctx context.Context) (any, error) {
	st, err := d.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return StatsResult{
		LiveCount:      st.LiveCount,
		ArchivedCount:  st.ArchivedCount,
		EmbeddingCount: st.EmbeddingCount,
		TagCount:       st.TagCount,
		ANNCount:       st.ANNCount,
	}, nil
}

// HealthCheckParams is health_check()'s params: whether to repair
// fixable issues in place (spec §4.C9).
type HealthCheckParams struct {
	Repair bool `json:"repair,omitempty"`
}

func (d *Dispatcher) handleHealthCheck(ctx context.Context, raw json.RawMessage) (any, error) {
	var p HealthCheckParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if d.health == nil {
		return health.Report{OK: true}, nil
	}
	return d.health.Check(ctx, p.Repair)
}

// ConsolidateNowParams names the single horizon to run immediately,
// out of band from its cron schedule (operator-triggered, spec
// §4.C11's scheduler run outside its normal cadence).
type ConsolidateNowParams struct {
	Horizon string `json:"horizon"` // "daily", "weekly", "monthly", "quarterly", "yearly"
}

// ConsolidateNowResult is the outcome of the forced pass.
type ConsolidateNowResult struct {
	State  string         `json:"state"`
	Counts map[string]int `json:"counts"`
}

func (d *Dispatcher) handleConsolidateNow(ctx context.Context, raw json.RawMessage) (any, error) {
	var p ConsolidateNowParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if d.engine == nil {
		return nil, memerr.New(memerr.NotFound, "no consolidation engine wired into this dispatcher")
	}
	horizon := consolidation.Horizon(p.Horizon)
	switch horizon {
	case consolidation.HorizonDaily, consolidation.HorizonWeekly, consolidation.HorizonMonthly,
		consolidation.HorizonQuarterly, consolidation.HorizonYearly:
	default:
		return nil, memerr.New(memerr.Invalid, "unknown horizon %q", p.Horizon)
	}
	state, counts, err := d.engine.RunHorizon(ctx, horizon)
	if err != nil {
		return nil, err
	}
	return ConsolidateNowResult{State: string(state), Counts: counts}, nil
}
