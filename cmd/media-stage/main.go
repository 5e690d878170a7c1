package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/alexjbarnes/media-stage/gallery"
	"github.com/alexjbarnes/media-stage/internal/api"
	"github.com/alexjbarnes/media-stage/internal/config"
	apperrors "github.com/alexjbarnes/media-stage/internal/errors"
	"github.com/alexjbarnes/media-stage/internal/logging"
	"github.com/alexjbarnes/media-stage/internal/mcpserver"
	"github.com/alexjbarnes/media-stage/internal/preview"
	"github.com/alexjbarnes/media-stage/internal/stage"
	"github.com/alexjbarnes/media-stage/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

const usage = `usage: media-stage <command> [args]

commands:
  load [file]       seed the draft from a JSON tag array (stdin if no file)
  status            show the collection and unsaved changes
  add <file>...     stage image files for upload
  remove <index>    remove the image at a display index
  move <from> <to>  move an image between display indices
  commit            upload staged files and print the tag list
  discard           drop the draft and every staged change
  watch             run the stage watcher and preview server
  serve             run the MCP tool server
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	manifest, err := stage.LoadManifest(cfg.StageDir)
	if err != nil {
		return err
	}

	store, err := state.Open()
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := openSession(store, manifest.Record)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "load":
		return cmdLoad(sess, args)
	case "status":
		return cmdStatus(sess)
	case "add":
		return cmdAdd(sess, args)
	case "remove":
		return cmdRemove(sess, args)
	case "move":
		return cmdMove(sess, args)
	case "commit":
		return cmdCommit(ctx, sess, cfg, manifest)
	case "discard":
		return cmdDiscard(sess)
	case "watch":
		return cmdWatch(ctx, sess, cfg, manifest, logger)
	case "serve":
		return cmdServe(ctx, sess, cfg, manifest, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// session is one record's draft: the live collection, the snapshot the
// draft was last saved against, and the store to save back to.
type session struct {
	record string
	store  *state.Store
	col    *gallery.Collection
	snap   gallery.Snapshot
}

func openSession(store *state.Store, record string) (*session, error) {
	sess := &session{record: record, store: store}

	draft, err := store.GetDraft(record)
	switch {
	case errors.Is(err, apperrors.ErrDraftNotFound):
		sess.col = gallery.NewCollection()
		sess.snap = sess.col.Snapshot()
	case err != nil:
		return nil, err
	default:
		sess.col, sess.snap = draft.Restore()
	}

	return sess, nil
}

func (s *session) save() error {
	return s.store.SaveDraft(state.FromCollection(s.record, s.col, s.snap))
}

func cmdLoad(s *session, args []string) error {
	var (
		data []byte
		err  error
	)

	if len(args) > 0 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading tag list: %w", err)
	}

	s.col = gallery.NormalizeJSON(data)
	s.snap = s.col.Snapshot()

	if err := s.save(); err != nil {
		return err
	}

	fmt.Printf("loaded %d images into draft %s\n", s.col.Len(), s.record)
	return nil
}

func cmdStatus(s *session) error {
	display := s.col.Display()

	fmt.Printf("draft %s: %d images\n", s.record, len(display))
	for i, e := range display {
		if e.IsLocal() {
			fmt.Printf("  %2d  %s (pending upload)\n", i, e.Filename())
		} else {
			fmt.Printf("  %2d  %s\n", i, e.Path())
		}
	}

	if !s.col.Dirty(s.snap) {
		fmt.Println("clean")
		return nil
	}

	fmt.Println("unsaved changes:")
	fmt.Println(s.col.Changes(s.snap))
	return nil
}

func cmdAdd(s *session, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("add: at least one file required")
	}

	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", arg, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return fmt.Errorf("staging %s: %w", arg, err)
		}

		e, added := s.col.Add(gallery.NewFileSource(abs))
		if added {
			fmt.Printf("staged %s\n", e.Filename())
		} else {
			fmt.Printf("already staged: %s\n", e.Filename())
		}
	}

	return s.save()
}

func cmdRemove(s *session, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("remove: exactly one index required")
	}

	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("remove: invalid index %q", args[0])
	}

	if err := s.col.Remove(index); err != nil {
		return err
	}

	fmt.Printf("removed image at index %d\n", index)
	return s.save()
}

func cmdMove(s *session, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("move: from and to indices required")
	}

	from, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("move: invalid index %q", args[0])
	}
	to, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("move: invalid index %q", args[1])
	}

	if err := s.col.Move(from, to); err != nil {
		return err
	}

	fmt.Printf("moved image %d to %d\n", from, to)
	return s.save()
}

// cmdCommit uploads every staged file, prints the resulting tag list
// as a JSON array, and records the collection as saved. On upload
// failure the partially committed draft is saved so a rerun resumes
// after the files that already made it up.
func cmdCommit(ctx context.Context, s *session, cfg *config.Config, manifest *stage.Manifest) error {
	if cfg.APIBaseURL == "" {
		return fmt.Errorf("MEDIA_API_URL is required for commit")
	}

	client := api.NewClient(cfg.APIBaseURL, cfg.UploadPath, cfg.APIToken, nil)

	if err := s.col.Commit(ctx, client, manifest.Fields); err != nil {
		if saveErr := s.save(); saveErr != nil {
			return fmt.Errorf("committing: %w (draft not saved: %v)", err, saveErr)
		}
		return fmt.Errorf("committing: %w", err)
	}

	tags, err := s.col.Serialize()
	if err != nil {
		return err
	}

	out, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encoding tag list: %w", err)
	}
	fmt.Println(string(out))

	s.snap = s.col.Snapshot()
	return s.save()
}

func cmdDiscard(s *session) error {
	s.col.Discard()

	if err := s.store.DeleteDraft(s.record); err != nil {
		return err
	}

	fmt.Printf("discarded draft %s\n", s.record)
	return nil
}

// cmdWatch runs the stage watcher plus whichever servers are enabled
// until interrupted. Every collection change is saved back to the
// draft so an interrupted session resumes where it left off.
func cmdWatch(ctx context.Context, s *session, cfg *config.Config, manifest *stage.Manifest, logger *slog.Logger) error {
	s.col.OnChange(func() {
		if err := s.save(); err != nil {
			logger.Warn("saving draft", slog.String("error", err.Error()))
		}
	})

	logger.Info("watching stage directory",
		slog.String("dir", cfg.StageDir),
		slog.String("record", s.record),
	)

	g, gctx := errgroup.WithContext(ctx)

	watcher := stage.NewWatcher(cfg.StageDir, s.col, logger)
	g.Go(func() error {
		return watcher.Run(gctx)
	})

	if cfg.EnablePreview {
		srv := preview.NewServer(cfg.PreviewAddr, s.col, logger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	if cfg.EnableMCP {
		g.Go(func() error {
			return runMCP(gctx, s, cfg, manifest, logger)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// cmdServe exposes the gallery tools over MCP.
func cmdServe(ctx context.Context, s *session, cfg *config.Config, manifest *stage.Manifest, logger *slog.Logger) error {
	s.col.OnChange(func() {
		if err := s.save(); err != nil {
			logger.Warn("saving draft", slog.String("error", err.Error()))
		}
	})

	return runMCP(ctx, s, cfg, manifest, logger)
}

func runMCP(ctx context.Context, s *session, cfg *config.Config, manifest *stage.Manifest, logger *slog.Logger) error {
	var uploader gallery.Uploader
	if cfg.APIBaseURL != "" {
		uploader = api.NewClient(cfg.APIBaseURL, cfg.UploadPath, cfg.APIToken, nil)
	} else {
		uploader = unconfiguredUploader{}
	}

	mcpSession := mcpserver.NewSession(s.col, uploader, manifest.Fields)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "media-stage-mcp", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, mcpSession)

	handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	server := &http.Server{
		Addr:         cfg.MCPListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("starting MCP server",
		slog.String("listen", cfg.MCPListenAddr),
		slog.String("record", s.record),
	)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}

// unconfiguredUploader fails every upload with a configuration hint,
// so gallery_commit reports a usable message instead of a nil panic.
type unconfiguredUploader struct{}

func (unconfiguredUploader) Upload(context.Context, gallery.Source, map[string]string) (gallery.UploadResult, error) {
	return gallery.UploadResult{}, fmt.Errorf("MEDIA_API_URL is not configured")
}
