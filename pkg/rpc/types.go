// Package rpc implements the transport-agnostic request/response
// contract of spec §6: a correlation id on every request, the same id
// echoed on every response, and either a result or an error object of
// {kind, message, retryable}.
package rpc

import (
	"encoding/json"

	"github.com/fyrsmithlabs/memoryd/internal/memerr"
)

// Op names one of the dispatcher's public operations. The wire value
// is the lowercase snake_case name used throughout spec §4.
type Op string

const (
	OpStore          Op = "store"
	OpGetByHash      Op = "get_by_hash"
	OpUpdate         Op = "update"
	OpDelete         Op = "delete"
	OpDeleteByTags   Op = "delete_by_tags"
	OpRetrieve       Op = "retrieve"
	OpRecall         Op = "recall"
	OpSearchByTag    Op = "search_by_tag"
	OpExactMatch     Op = "exact_match"
	OpDebugRetrieve  Op = "debug_retrieve"
	OpStats          Op = "stats"
	OpHealthCheck    Op = "health_check"
	OpConsolidateNow Op = "consolidate_now"
)

// Request is one call against the service. ID is the caller-chosen
// correlation id echoed verbatim on the Response; Params is decoded by
// the handler registered for Op.
type Request struct {
	ID     string          `json:"id"`
	Op     Op              `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ErrorObject is the wire form of memerr.Error (spec §6: "an error
// object with fields {kind, message, retryable: bool}").
type ErrorObject struct {
	Kind      memerr.Kind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

// Response carries the same ID as its Request and either Result or
// Error, never both.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
}

// NewErrorObject converts any error into the wire error shape,
// classifying it through memerr's taxonomy. Errors that never passed
// through memerr.New/Wrap are reported as Corruption, the same default
// memerr.KindOf uses at the store boundary.
func NewErrorObject(err error) *ErrorObject {
	return &ErrorObject{
		Kind:      memerr.KindOf(err),
		Message:   err.Error(),
		Retryable: memerr.IsRetryable(err),
	}
}
