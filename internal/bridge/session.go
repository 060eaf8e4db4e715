package bridge

import (
	"context"

	"github.com/ditkit/ditreport/internal/session"
)

// Caller is the transport a Session needs. *Client implements it.
type Caller interface {
	Call(ctx context.Context, method string, params, out any) error
}

// Session implements session.Session over bridge calls.
type Session struct {
	c Caller
}

func NewSession(c Caller) *Session {
	return &Session{c: c}
}

var _ session.Session = (*Session)(nil)

type timelineParams struct {
	TimelineID string `json:"timeline_id"`
}

type trackParams struct {
	TimelineID string            `json:"timeline_id"`
	Kind       session.TrackKind `json:"kind"`
	Index      int               `json:"index,omitempty"`
}

func (s *Session) call(ctx context.Context, op, method string, params, out any) error {
	return session.Wrap(op, s.c.Call(ctx, method, params, out))
}

func (s *Session) Project(ctx context.Context) (session.ProjectInfo, error) {
	var p session.ProjectInfo
	err := s.call(ctx, "project", MethodProject, nil, &p)
	return p, err
}

func (s *Session) RootFolder(ctx context.Context) (session.FolderRef, error) {
	var f session.FolderRef
	err := s.call(ctx, "root_folder", MethodRootFolder, nil, &f)
	return f, err
}

func (s *Session) FolderClips(ctx context.Context, folderID string) ([]session.MediaRef, error) {
	var out []session.MediaRef
	err := s.call(ctx, "folder_clips", MethodFolderClips, map[string]string{"folder_id": folderID}, &out)
	return out, err
}

func (s *Session) SubFolders(ctx context.Context, folderID string) ([]session.FolderRef, error) {
	var out []session.FolderRef
	err := s.call(ctx, "sub_folders", MethodSubFolders, map[string]string{"folder_id": folderID}, &out)
	return out, err
}

func (s *Session) ClipProperties(ctx context.Context, mediaID string) (map[string]string, error) {
	var out map[string]string
	err := s.call(ctx, "clip_properties", MethodClipProperties, map[string]string{"media_id": mediaID}, &out)
	return out, err
}

func (s *Session) ClipMetadata(ctx context.Context, mediaID string) (map[string]string, error) {
	var out map[string]string
	err := s.call(ctx, "clip_metadata", MethodClipMetadata, map[string]string{"media_id": mediaID}, &out)
	return out, err
}

func (s *Session) Timelines(ctx context.Context) ([]session.TimelineRef, error) {
	var out []session.TimelineRef
	err := s.call(ctx, "timelines", MethodTimelines, nil, &out)
	return out, err
}

func (s *Session) CurrentTimeline(ctx context.Context) (session.TimelineRef, error) {
	var out session.TimelineRef
	err := s.call(ctx, "current_timeline", MethodCurrentTimeline, nil, &out)
	return out, err
}

func (s *Session) SetCurrentTimeline(ctx context.Context, timelineID string) error {
	return s.call(ctx, "set_current_timeline", MethodSetTimeline, timelineParams{timelineID}, nil)
}

func (s *Session) TimelineInfo(ctx context.Context, timelineID string) (session.TimelineInfo, error) {
	var out session.TimelineInfo
	err := s.call(ctx, "timeline_info", MethodTimelineInfo, timelineParams{timelineID}, &out)
	return out, err
}

func (s *Session) TrackCount(ctx context.Context, timelineID string, kind session.TrackKind) (int, error) {
	var n int
	err := s.call(ctx, "track_count", MethodTrackCount, trackParams{TimelineID: timelineID, Kind: kind}, &n)
	return n, err
}

func (s *Session) TrackItems(ctx context.Context, timelineID string, kind session.TrackKind, index int) ([]session.TrackItem, error) {
	var out []session.TrackItem
	err := s.call(ctx, "track_items", MethodTrackItems, trackParams{TimelineID: timelineID, Kind: kind, Index: index}, &out)
	return out, err
}

// Markers decodes the bridge's {"<offset>": {...}} object.
func (s *Session) Markers(ctx context.Context, timelineID string) (map[int64]session.Marker, error) {
	var out map[int64]session.Marker
	err := s.call(ctx, "markers", MethodMarkers, timelineParams{timelineID}, &out)
	return out, err
}

func (s *Session) CurrentTimecode(ctx context.Context, timelineID string) (string, error) {
	var tc string
	err := s.call(ctx, "current_timecode", MethodCurrentTimecode, timelineParams{timelineID}, &tc)
	return tc, err
}

func (s *Session) SetCurrentTimecode(ctx context.Context, timelineID, tc string) error {
	params := map[string]string{"timeline_id": timelineID, "timecode": tc}
	return s.call(ctx, "set_current_timecode", MethodSetTimecode, params, nil)
}

func (s *Session) ExportCurrentFrame(ctx context.Context, path string) (bool, error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err := s.call(ctx, "export_frame", MethodExportFrame, map[string]string{"path": path}, &out)
	return out.OK, err
}

func (s *Session) CurrentPage(ctx context.Context) (string, error) {
	var page string
	err := s.call(ctx, "current_page", MethodCurrentPage, nil, &page)
	return page, err
}

func (s *Session) OpenPage(ctx context.Context, page string) error {
	return s.call(ctx, "open_page", MethodOpenPage, map[string]string{"page": page}, nil)
}
