// Package preview serves a read-only view of the staged collection on
// a loopback address. Clients poll GET /images or hold a WebSocket on
// /ws and receive the display projection after every mutation.
package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alexjbarnes/media-stage/gallery"
	"github.com/coder/websocket"
)

// Image is one display slot as seen by preview clients.
type Image struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Path     string `json:"path,omitempty"`
	Pending  bool   `json:"pending"`
	Preview  string `json:"preview,omitempty"`
}

// Server is the preview HTTP server. It only reads from the
// collection; mutations arrive exclusively through the engine.
type Server struct {
	addr   string
	col    *gallery.Collection
	logger *slog.Logger

	// changed is closed and replaced on every collection change.
	// WebSocket writers wait on the current channel.
	mu      sync.Mutex
	changed chan struct{}
}

// NewServer builds a preview server for col listening on addr. The
// caller is responsible for ensuring addr is loopback.
func NewServer(addr string, col *gallery.Collection, logger *slog.Logger) *Server {
	s := &Server{
		addr:    addr,
		col:     col,
		logger:  logger,
		changed: make(chan struct{}),
	}
	col.OnChange(s.signal)

	return s
}

func (s *Server) signal() {
	// Wake every waiter by closing the current generation channel.
	s.mu.Lock()
	old := s.changed
	s.changed = make(chan struct{})
	s.mu.Unlock()

	close(old)
}

func (s *Server) waitCh() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.changed
}

// images builds the current display projection.
func (s *Server) images() []Image {
	display := s.col.Display()
	out := make([]Image, 0, len(display))

	for i, e := range display {
		img := Image{
			Index:    i,
			Filename: e.Filename(),
			Pending:  e.IsLocal(),
			Preview:  e.Preview(),
		}
		if !e.IsLocal() {
			img.Path = e.Path()
		}
		out = append(out, img)
	}

	return out
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.images()); err != nil {
		s.logger.Warn("writing preview response", slog.String("error", err.Error()))
	}
}

// handleWS pushes the display projection to the client on connect and
// after every mutation until the client or server goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	for {
		wait := s.waitCh()

		if err := s.writeImages(ctx, conn); err != nil {
			s.logger.Debug("preview client gone", slog.String("error", err.Error()))
			return
		}

		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-wait:
		}
	}
}

func (s *Server) writeImages(ctx context.Context, conn *websocket.Conn) error {
	data, err := json.Marshal(s.images())
	if err != nil {
		return fmt.Errorf("encoding images: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return conn.Write(writeCtx, websocket.MessageText, data)
}

// Mux returns the preview routes. Split out from Run so tests can
// exercise the handlers with httptest.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/images", s.handleImages)
	mux.HandleFunc("/ws", s.handleWS)

	return mux
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:        s.addr,
		Handler:     s.Mux(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down preview server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("preview server listening", slog.String("addr", s.addr))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("preview server: %w", err)
	}

	return nil
}
