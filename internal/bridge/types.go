// Package bridge talks to the editing application through a long-lived
// Python bridge process speaking newline-delimited JSON-RPC 2.0 on its
// stdin and stdout.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ditkit/ditreport/internal/session"
)

// JSON-RPC 2.0 types per https://www.jsonrpc.org/specification

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      *int64          `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s (%d): %v", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Bridge-specific error codes.
const (
	// CodeUnavailable: the application is not running or has no project open.
	CodeUnavailable = -32010
	// CodeNotFound: unknown timeline, folder or media id.
	CodeNotFound = -32011
)

// Unwrap maps bridge error codes onto session sentinels.
func (e *Error) Unwrap() error {
	switch e.Code {
	case CodeUnavailable:
		return session.ErrUnavailable
	case CodeNotFound:
		return session.ErrNotFound
	}
	return nil
}

// ErrClosed is returned for calls after the bridge has exited.
var ErrClosed = errors.New("bridge closed")

// Bridge method names.
const (
	MethodProject           = "project.get"
	MethodRootFolder        = "media.root"
	MethodFolderClips       = "media.clips"
	MethodSubFolders        = "media.subfolders"
	MethodClipProperties    = "clip.properties"
	MethodClipMetadata      = "clip.metadata"
	MethodTimelines         = "timeline.list"
	MethodCurrentTimeline   = "timeline.current"
	MethodSetTimeline       = "timeline.set_current"
	MethodTimelineInfo      = "timeline.info"
	MethodTrackCount        = "timeline.track_count"
	MethodTrackItems        = "timeline.items"
	MethodMarkers           = "timeline.markers"
	MethodCurrentTimecode   = "timeline.timecode"
	MethodSetTimecode       = "timeline.set_timecode"
	MethodExportFrame       = "frame.export"
	MethodCurrentPage       = "page.current"
	MethodOpenPage          = "page.open"
	MethodPing              = "bridge.ping"
)
