// Package stdio runs the request/response protocol (pkg/rpc) as
// newline-delimited JSON over stdin/stdout: one Request per line in,
// one Response per line out. This is the transport a local client
// (an editor plugin, a CLI wrapper) speaks without opening a socket.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memerr"
	"github.com/fyrsmithlabs/memoryd/pkg/rpc"
)

// maxLineBytes bounds a single request line, generous enough for a
// store() call carrying a large piece of content without letting a
// malformed client exhaust memory with an unterminated line.
const maxLineBytes = 16 * 1024 * 1024

// Server reads Requests from in and writes Responses to out, one JSON
// object per line, until in is closed or ctx is cancelled.
type Server struct {
	dispatcher *rpc.Dispatcher
	in         io.Reader
	out        io.Writer
	logger     *zap.Logger
}

// New builds a Server over the given dispatcher and streams.
func New(dispatcher *rpc.Dispatcher, in io.Reader, out io.Writer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{dispatcher: dispatcher, in: in, out: out, logger: logger}
}

// Run processes requests until the input stream ends or ctx is
// cancelled. A line that doesn't parse as a Request produces a
// Response with an empty ID and an Invalid error rather than aborting
// the loop, so one bad line doesn't kill the session.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	enc := json.NewEncoder(s.out)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req rpc.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("discarding malformed request line", zap.Error(err))
			if encErr := enc.Encode(rpc.Response{Error: &rpc.ErrorObject{
				Kind:    memerr.Invalid,
				Message: "malformed request: " + err.Error(),
			}}); encErr != nil {
				return encErr
			}
			continue
		}

		resp := s.dispatcher.Handle(ctx, req)
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}
