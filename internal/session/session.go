// Package session defines the contract ditreport needs from a live editing
// session: project and media-pool introspection, timeline playhead control
// and still export. Implementations live in internal/bridge (a Python bridge
// process) and in this package (Fixture, a YAML-described project).
package session

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable means there is no session, project, or media pool to talk to.
// It is the only session error that terminates a whole run.
var ErrUnavailable = errors.New("editing session unavailable")

// ErrNotFound is returned for unknown timeline, folder or media ids.
var ErrNotFound = errors.New("not found")

// Error records the session operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err, otherwise an *Error tagged with op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsUnavailable reports whether err means the session itself is gone.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// TrackKind names a timeline track type.
type TrackKind string

const (
	TrackVideo    TrackKind = "video"
	TrackAudio    TrackKind = "audio"
	TrackSubtitle TrackKind = "subtitle"
)

// Pages on which the session can export the current frame.
var CapturePages = []string{"edit", "color", "cut", "fairlight", "deliver"}

// DefaultCapturePage is opened when the current page cannot export stills.
const DefaultCapturePage = "edit"

// CanCaptureOn reports whether stills can be exported from page.
func CanCaptureOn(page string) bool {
	for _, p := range CapturePages {
		if p == page {
			return true
		}
	}
	return false
}

// ProjectInfo identifies the open project.
type ProjectInfo struct {
	Name          string `json:"name" yaml:"name"`
	TimelineCount int    `json:"timeline_count" yaml:"-"`
}

// MediaRef is a media-pool item as enumerated inside a folder.
type MediaRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FolderRef is a media-pool folder.
type FolderRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TimelineRef identifies a timeline.
type TimelineRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TimelineInfo carries timeline settings needed for frame math.
type TimelineInfo struct {
	FrameRate  float64 `json:"frame_rate"`
	StartFrame int64   `json:"start_frame"`
	EndFrame   int64   `json:"end_frame"`
}

// TrackItem is a clip placed on a track. MediaID is empty when the item has
// no backing media-pool item (generators, titles, offline references).
type TrackItem struct {
	Name     string `json:"name"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Duration int64  `json:"duration"`
	MediaID  string `json:"media_id,omitempty"`
}

// Marker is a user annotation on a timeline.
type Marker struct {
	Name     string `json:"name" yaml:"name"`
	Color    string `json:"color" yaml:"color"`
	Note     string `json:"note" yaml:"note"`
	Duration int64  `json:"duration" yaml:"duration"`
}

// Session is the external editing session. Every call may be slow or fail;
// callers treat each call as a suspension point and check ctx around it.
type Session interface {
	Project(ctx context.Context) (ProjectInfo, error)

	RootFolder(ctx context.Context) (FolderRef, error)
	FolderClips(ctx context.Context, folderID string) ([]MediaRef, error)
	SubFolders(ctx context.Context, folderID string) ([]FolderRef, error)
	ClipProperties(ctx context.Context, mediaID string) (map[string]string, error)
	ClipMetadata(ctx context.Context, mediaID string) (map[string]string, error)

	Timelines(ctx context.Context) ([]TimelineRef, error)
	CurrentTimeline(ctx context.Context) (TimelineRef, error)
	SetCurrentTimeline(ctx context.Context, timelineID string) error
	TimelineInfo(ctx context.Context, timelineID string) (TimelineInfo, error)
	TrackCount(ctx context.Context, timelineID string, kind TrackKind) (int, error)
	TrackItems(ctx context.Context, timelineID string, kind TrackKind, index int) ([]TrackItem, error)
	// Markers maps 1-based frame offsets from the timeline start to markers.
	Markers(ctx context.Context, timelineID string) (map[int64]Marker, error)

	CurrentTimecode(ctx context.Context, timelineID string) (string, error)
	SetCurrentTimecode(ctx context.Context, timelineID, tc string) error
	ExportCurrentFrame(ctx context.Context, path string) (bool, error)

	CurrentPage(ctx context.Context) (string, error)
	OpenPage(ctx context.Context, page string) error
}
