// Package ntswire serves a Database over TCP with length-prefixed JSON frames.
package ntswire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tuannm99/novats/internal/engine"
	"github.com/tuannm99/novats/internal/record"
)

type Server struct {
	db  *engine.Database
	log *zap.Logger

	// IdleTimeout closes connections that send nothing for this long; 0
	// disables it.
	IdleTimeout time.Duration

	wg sync.WaitGroup
}

func NewServer(db *engine.Database, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{db: db, log: logger.Named("ntswire")}
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits for open
// connections to finish their current request.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer func() { _ = ln.Close() }()
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Warn("accept", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	log := s.log.With(zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("connection opened")

	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	wire := NewConn(conn)

	for {
		if s.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.IdleTimeout))
		}
		var req Request
		if err := wire.Read(&req); err != nil {
			// client closed, idle timeout, shutdown or bad frame
			log.Debug("connection closed", zap.Error(err))
			return
		}
		resp := s.Handle(ctx, &req)
		if err := wire.Write(resp); err != nil {
			log.Warn("write response", zap.Error(err))
			return
		}
	}
}

// Handle executes one request.
func (s *Server) Handle(ctx context.Context, req *Request) *Response {
	resp, err := s.dispatch(ctx, req)
	if err != nil {
		s.log.Debug("request failed", zap.String("op", string(req.Op)), zap.String("table", req.Table), zap.Error(err))
		return &Response{ID: req.ID, Error: err.Error(), Code: CodeOf(err)}
	}
	resp.ID = req.ID
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *Request) (*Response, error) {
	switch req.Op {
	case OpCreate:
		cols := make([]record.Column, 0, len(req.Columns))
		for _, d := range req.Columns {
			c, err := d.Column()
			if err != nil {
				return nil, err
			}
			cols = append(cols, c)
		}
		return &Response{}, s.db.CreateTable(req.Table, cols)

	case OpDrop:
		return &Response{}, s.db.DropTable(req.Table)

	case OpTables:
		return &Response{Tables: s.db.Tables()}, nil

	case OpInsert:
		if err := s.db.InsertAny(req.Table, req.Ts, req.Values); err != nil {
			return nil, err
		}
		return &Response{Affected: 1}, nil

	case OpDelete:
		where, err := req.Where.Predicate()
		if err != nil {
			return nil, err
		}
		n, err := s.db.DeleteRows(ctx, req.Table, where)
		if err != nil {
			return nil, err
		}
		return &Response{Affected: n}, nil

	case OpFlush, OpCompact:
		flush := s.db.FlushTable
		if req.Op == OpCompact {
			flush = s.db.Compact
		}
		st, err := flush(ctx, req.Table)
		if err != nil {
			return nil, err
		}
		return &Response{Flush: &FlushInfo{
			Noop:        st.Noop,
			Compacted:   st.Compacted,
			FlushedSeq:  st.FlushedSeq,
			RowsWritten: st.RowsWritten,
			RowsDropped: st.RowsDropped,
			Segments:    st.Segments,
		}}, nil

	case OpFlushAll:
		return &Response{}, s.db.FlushAll(ctx)

	case OpResetCache:
		s.db.ResetQueryCache()
		return &Response{}, nil

	case OpQuery:
		where, err := req.Where.Predicate()
		if err != nil {
			return nil, err
		}
		res, err := s.db.QueryRows(ctx, req.Table, req.Select, where)
		if err != nil {
			return nil, err
		}
		out := &Response{Columns: make([]ColumnDef, len(res.Columns)), Rows: make([][]any, len(res.Rows))}
		for i, c := range res.Columns {
			out.Columns[i] = ColumnDefOf(c)
		}
		for i, row := range res.Rows {
			vals := make([]any, len(row))
			for j, v := range row {
				vals[j] = WireValue(v)
			}
			out.Rows[i] = vals
		}
		out.Affected = len(res.Rows)
		return out, nil
	}
	return nil, fmt.Errorf("ntswire: unknown op %q", req.Op)
}
