// Package mcpserver registers MCP tools that expose gallery operations.
// It adapts the gallery engine to the MCP SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alexjbarnes/media-stage/gallery"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Session bundles the collection and its collaborators for tool
// handlers, plus the baseline snapshot dirty checks compare against.
type Session struct {
	col      *gallery.Collection
	uploader gallery.Uploader
	fields   map[string]string

	mu       sync.Mutex
	baseline gallery.Snapshot
}

// NewSession wraps col for MCP access. The baseline is captured now;
// gallery_mark_saved advances it after the caller submits the tags.
func NewSession(col *gallery.Collection, uploader gallery.Uploader, fields map[string]string) *Session {
	return &Session{
		col:      col,
		uploader: uploader,
		fields:   fields,
		baseline: col.Snapshot(),
	}
}

func (s *Session) snapshot() gallery.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.baseline
}

func (s *Session) markSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.baseline = s.col.Snapshot()
}

// RegisterTools adds all gallery tools to the given MCP server.
func RegisterTools(server *mcp.Server, s *Session) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_status",
		Description: "Show the staged image collection in display order, whether it differs from the last saved state, and a line diff of the changes. Use this as the first call.",
	}, statusHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_add",
		Description: "Stage a local image file for upload. The file is appended to the end of the collection. Adding a filename that is already staged is a no-op.",
	}, addHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_remove",
		Description: "Remove the image at a display index. Staged files are dropped outright; images already on the server are kept and marked for deletion on save.",
	}, removeHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_move",
		Description: "Move the image at one display index to another. Indices refer to the visible collection, deletion-marked images excluded.",
	}, moveHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_commit",
		Description: "Upload every staged file in display order and return the full tag list for submission. Stops at the first failed upload; already uploaded files keep their remote state, so retrying resumes where it stopped.",
	}, commitHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_mark_saved",
		Description: "Record the current collection as the saved state after the tag list has been submitted. gallery_status reports clean until the next mutation.",
	}, markSavedHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gallery_discard",
		Description: "Drop every staged change and empty the collection. Preview resources for staged files are released.",
	}, discardHandler(s))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// StatusInput has no parameters.
type StatusInput struct{}

// AddInput holds parameters for gallery_add.
type AddInput struct {
	Path string `json:"path" jsonschema:"required,path of the image file to stage"`
}

// RemoveInput holds parameters for gallery_remove.
type RemoveInput struct {
	Index int `json:"index" jsonschema:"required,display index of the image to remove"`
}

// MoveInput holds parameters for gallery_move.
type MoveInput struct {
	From int `json:"from" jsonschema:"required,display index of the image to move"`
	To   int `json:"to" jsonschema:"required,display index the image should land at"`
}

// CommitInput has no parameters.
type CommitInput struct{}

// MarkSavedInput has no parameters.
type MarkSavedInput struct{}

// DiscardInput has no parameters.
type DiscardInput struct{}

// --- Result types ---

// ImageInfo is one visible collection slot.
type ImageInfo struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Path     string `json:"path,omitempty"`
	Pending  bool   `json:"pending"`
}

// StatusResult is the output of gallery_status.
type StatusResult struct {
	Images  []ImageInfo `json:"images"`
	Dirty   bool        `json:"dirty"`
	Changes string      `json:"changes,omitempty"`
}

// AddResult is the output of gallery_add.
type AddResult struct {
	Filename string `json:"filename"`
	Added    bool   `json:"added"`
	Visible  int    `json:"visible"`
}

// RemoveResult is the output of gallery_remove.
type RemoveResult struct {
	Removed string `json:"removed"`
	Visible int    `json:"visible"`
}

// MoveResult is the output of gallery_move.
type MoveResult struct {
	Filename string `json:"filename"`
	Index    int    `json:"index"`
	Visible  int    `json:"visible"`
}

// CommitResult is the output of gallery_commit.
type CommitResult struct {
	Uploaded int      `json:"uploaded"`
	Tags     []string `json:"tags"`
}

// MarkSavedResult is the output of gallery_mark_saved.
type MarkSavedResult struct {
	Dirty bool `json:"dirty"`
}

// DiscardResult is the output of gallery_discard.
type DiscardResult struct {
	Visible int `json:"visible"`
}

// --- Handlers ---

func imageInfos(col *gallery.Collection) []ImageInfo {
	display := col.Display()
	out := make([]ImageInfo, 0, len(display))

	for i, e := range display {
		info := ImageInfo{
			Index:    i,
			Filename: e.Filename(),
			Pending:  e.IsLocal(),
		}
		if !e.IsLocal() {
			info.Path = e.Path()
		}
		out = append(out, info)
	}

	return out
}

func statusHandler(s *Session) mcp.ToolHandlerFor[StatusInput, *StatusResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusResult, error) {
		baseline := s.snapshot()
		result := &StatusResult{
			Images: imageInfos(s.col),
			Dirty:  s.col.Dirty(baseline),
		}
		if result.Dirty {
			result.Changes = s.col.Changes(baseline)
		}

		return textResult(result), result, nil
	}
}

func addHandler(s *Session) mcp.ToolHandlerFor[AddInput, *AddResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input AddInput) (*mcp.CallToolResult, *AddResult, error) {
		if input.Path == "" {
			return nil, nil, fmt.Errorf("path is required")
		}

		e, added := s.col.Add(gallery.NewFileSource(input.Path))
		result := &AddResult{
			Filename: e.Filename(),
			Added:    added,
			Visible:  len(s.col.Display()),
		}

		return textResult(result), result, nil
	}
}

func removeHandler(s *Session) mcp.ToolHandlerFor[RemoveInput, *RemoveResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input RemoveInput) (*mcp.CallToolResult, *RemoveResult, error) {
		display := s.col.Display()
		if input.Index < 0 || input.Index >= len(display) {
			return nil, nil, fmt.Errorf("index %d out of range (%d visible)", input.Index, len(display))
		}
		name := display[input.Index].Filename()

		if err := s.col.Remove(input.Index); err != nil {
			return nil, nil, err
		}

		result := &RemoveResult{
			Removed: name,
			Visible: len(s.col.Display()),
		}

		return textResult(result), result, nil
	}
}

func moveHandler(s *Session) mcp.ToolHandlerFor[MoveInput, *MoveResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input MoveInput) (*mcp.CallToolResult, *MoveResult, error) {
		display := s.col.Display()
		if input.From < 0 || input.From >= len(display) {
			return nil, nil, fmt.Errorf("from index %d out of range (%d visible)", input.From, len(display))
		}
		name := display[input.From].Filename()

		if err := s.col.Move(input.From, input.To); err != nil {
			return nil, nil, err
		}

		result := &MoveResult{
			Filename: name,
			Index:    input.To,
			Visible:  len(s.col.Display()),
		}

		return textResult(result), result, nil
	}
}

func commitHandler(s *Session) mcp.ToolHandlerFor[CommitInput, *CommitResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ CommitInput) (*mcp.CallToolResult, *CommitResult, error) {
		uploaded := 0
		for _, e := range s.col.Display() {
			if e.IsLocal() {
				uploaded++
			}
		}

		if err := s.col.Commit(ctx, s.uploader, s.fields); err != nil {
			return nil, nil, err
		}

		tags, err := s.col.Serialize()
		if err != nil {
			return nil, nil, err
		}

		result := &CommitResult{Uploaded: uploaded, Tags: tags}

		return textResult(result), result, nil
	}
}

func markSavedHandler(s *Session) mcp.ToolHandlerFor[MarkSavedInput, *MarkSavedResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ MarkSavedInput) (*mcp.CallToolResult, *MarkSavedResult, error) {
		s.markSaved()
		result := &MarkSavedResult{Dirty: false}

		return textResult(result), result, nil
	}
}

func discardHandler(s *Session) mcp.ToolHandlerFor[DiscardInput, *DiscardResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ DiscardInput) (*mcp.CallToolResult, *DiscardResult, error) {
		s.col.Discard()
		result := &DiscardResult{Visible: len(s.col.Display())}

		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
