package e2e_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alexjbarnes/media-stage/internal/api"
	"github.com/alexjbarnes/media-stage/internal/mcpserver"
	"github.com/alexjbarnes/media-stage/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

const testToken = "e2e-test-token"

// receivedUpload records one multipart upload as seen by the fake
// backend.
type receivedUpload struct {
	Filename string
	Content  string
	Fields   map[string]string
	Auth     string
}

// backend is a fake upload endpoint. It assigns remote paths under
// uploads/ and can be told to fail a specific attempt.
type backend struct {
	mu          sync.Mutex
	uploads     []receivedUpload
	attempts    int
	failAttempt int
}

func (b *backend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		b.attempts++
		if b.attempts == b.failAttempt {
			http.Error(w, `{"error": "storage unavailable"}`, http.StatusBadGateway)
			return
		}

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()

		content, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		fields := make(map[string]string)
		for key, vals := range r.MultipartForm.Value {
			if len(vals) > 0 {
				fields[key] = vals[0]
			}
		}

		b.uploads = append(b.uploads, receivedUpload{
			Filename: header.Filename,
			Content:  string(content),
			Fields:   fields,
			Auth:     r.Header.Get("Authorization"),
		})

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"remote_path": "uploads/%s"}`, header.Filename)
	}
}

func (b *backend) received() []receivedUpload {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]receivedUpload(nil), b.uploads...)
}

// failOnAttempt makes the nth upload attempt (1-based) return a 502.
func (b *backend) failOnAttempt(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failAttempt = n
}

// harness holds the e2e stack: a fake upload backend, a real upload
// client pointed at it, an isolated draft store, and a directory of
// image files to stage.
type harness struct {
	Backend  *backend
	Client   *api.Client
	Store    *state.Store
	StageDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	b := &backend{}
	ts := httptest.NewServer(b.handler())
	t.Cleanup(ts.Close)

	store, err := state.OpenAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	for _, name := range []string{"front.jpg", "side.jpg", "detail.jpg"} {
		require.NoError(t, os.WriteFile(
			filepath.Join(dir, name),
			[]byte("image bytes of "+name),
			0o644,
		))
	}

	return &harness{
		Backend:  b,
		Client:   api.NewClient(ts.URL, "/api/media/upload", testToken, ts.Client()),
		Store:    store,
		StageDir: dir,
	}
}

func (h *harness) stagePath(name string) string {
	return filepath.Join(h.StageDir, name)
}

// mcpSession serves the gallery tools over a real streamable HTTP
// endpoint and returns a connected client session.
func (h *harness) mcpSession(t *testing.T, sess *mcpserver.Session) *mcp.ClientSession {
	t.Helper()

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "media-stage-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, sess)

	handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	transport := &mcp.StreamableClientTransport{
		Endpoint:             ts.URL,
		HTTPClient:           ts.Client(),
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// extractTextContent returns the first text content of a tool result.
func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "first content is not TextContent")

	return tc.Text
}

// decodeResult unmarshals the first text content into dest.
func decodeResult(t *testing.T, result *mcp.CallToolResult, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(extractTextContent(t, result)), dest))
}
