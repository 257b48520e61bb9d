// Package server implements the Listener (spec component G): it accepts
// TCP connections, spawns a Protocol Engine per client, tracks live
// handlers by a monotonically increasing connection id, and coordinates
// shutdown.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/text/encoding"

	"github.com/gassmann-textboard/textboard/internal/board/audit"
	"github.com/gassmann-textboard/textboard/internal/board/notify"
	"github.com/gassmann-textboard/textboard/internal/board/protocol"
	"github.com/gassmann-textboard/textboard/internal/board/store"
)

// Server accepts textboard client connections on a TCP listener.
type Server struct {
	lis net.Listener

	idx     *store.Index
	bus     *notify.Bus
	enc     encoding.Encoding
	journal *audit.Journal

	nextID atomic.Uint64

	mu    sync.Mutex
	conns map[uint64]*protocol.Engine
}

// New binds a TCP listener on addr and returns a Server ready to Serve.
func New(addr string, idx *store.Index, bus *notify.Bus, enc encoding.Encoding, journal *audit.Journal) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: failed to bind listener on %q: %w", addr, err)
	}

	return &Server{
		lis:     lis,
		idx:     idx,
		bus:     bus,
		enc:     enc,
		journal: journal,
		conns:   make(map[uint64]*protocol.Engine),
	}, nil
}

// Addr returns the address the listener is bound to.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

// Serve runs the accept loop until the listener is closed by Shutdown or a
// fatal accept error occurs.
func (s *Server) Serve() {
	slog.Info("listening", "addr", s.lis.Addr())
	for {
		conn, err := s.lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				slog.Info("listener closed")
				return
			}
			slog.Error("accept failed", "error", err)
			continue
		}

		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	id := s.nextID.Add(1)
	remote := conn.RemoteAddr().String()
	slog.Info("client connected", "conn", id, "peer", remote)
	s.journal.RecordConnect(id, remote)

	engine := protocol.New(id, conn, s.idx, s.bus, s.enc)

	s.mu.Lock()
	s.conns[id] = engine
	s.mu.Unlock()

	engine.Run()

	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()

	s.journal.RecordDisconnect(id)
	slog.Info("client disconnected", "conn", id, "peer", remote)
}

// Shutdown closes the listening socket, then best-effort closes every
// still-live connection (causing each engine's Run to return). Connections
// are closed in ascending connection-id order for deterministic logs.
func (s *Server) Shutdown() error {
	closeErr := s.lis.Close()

	s.mu.Lock()
	ids := make([]uint64, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	engines := make([]*protocol.Engine, len(ids))
	for i, id := range ids {
		engines[i] = s.conns[id]
	}
	s.mu.Unlock()

	for i, engine := range engines {
		if err := engine.Close(); err != nil {
			slog.Warn("failed to close connection during shutdown", "conn", ids[i], "error", err)
		}
	}

	if closeErr != nil {
		return fmt.Errorf("server: failed to close listener: %w", closeErr)
	}
	return nil
}
