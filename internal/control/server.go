package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voxin/internal/domain"
)

var ErrAlreadyRunning = errors.New("another instance is listening on the control socket")

// Handler is what the control channel drives.
type Handler interface {
	Toggle(ctx context.Context) (string, error)
	Status() domain.Status
	// RestartRecognizer respawns a dead recognizer.
	RestartRecognizer() error
}

// Server accepts control connections on a unix socket.
type Server struct {
	path    string
	handler Handler
	log     zerolog.Logger

	listener net.Listener
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewServer(path string, handler Handler, log zerolog.Logger) *Server {
	return &Server{
		path:    path,
		handler: handler,
		log:     log,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the socket, replacing a stale one left by a crash.
func (s *Server) Listen() error {
	if _, err := os.Stat(s.path); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.path, 200*time.Millisecond)
		if dialErr == nil {
			_ = conn.Close()
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.path)
		}
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("restrict control socket: %w", err)
	}
	s.listener = ln
	s.log.Info().Str("socket", s.path).Msg("control socket listening")
	return nil
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("control server is not listening")
	}

	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			defer conn.Close()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.log.Debug().Err(err).Msg("malformed control request")
			_ = enc.Encode(Response{OK: false, Error: ErrMsgInvalidRequest})
			continue
		}
		if err := enc.Encode(s.dispatch(ctx, req)); err != nil {
			s.log.Debug().Err(err).Msg("control client went away")
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID}

	switch req.Op {
	case OpToggle:
		action, err := s.handler.Toggle(ctx)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.OK = true
			resp.Action = action
		}
		status := s.handler.Status()
		resp.Status = &status
	case OpStatus:
		status := s.handler.Status()
		resp.OK = true
		resp.Status = &status
	case OpRestart:
		if err := s.handler.RestartRecognizer(); err != nil {
			resp.Error = err.Error()
		} else {
			resp.OK = true
			resp.Action = "restarting"
		}
		status := s.handler.Status()
		resp.Status = &status
	default:
		resp.Error = fmt.Sprintf("%s: %q", ErrMsgUnknownOp, req.Op)
	}

	s.log.Debug().Str("id", req.ID).Str("op", req.Op).Bool("ok", resp.OK).Msg("control request handled")
	return resp
}

// Close stops accepting, drops open connections and removes the socket.
func (s *Server) Close() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()

	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}
