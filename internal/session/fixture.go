package session

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ditkit/ditreport/internal/timecode"
)

// FixtureProject is the YAML shape of an offline project snapshot.
type FixtureProject struct {
	Name        string            `yaml:"name"`
	CurrentPage string            `yaml:"current_page"`
	Current     string            `yaml:"current_timeline"`
	Root        FixtureFolder     `yaml:"root"`
	Timelines   []FixtureTimeline `yaml:"timelines"`
}

type FixtureFolder struct {
	Name    string          `yaml:"name"`
	Clips   []FixtureClip   `yaml:"clips"`
	Folders []FixtureFolder `yaml:"folders"`
}

type FixtureClip struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Properties map[string]string `yaml:"properties"`
	Metadata   map[string]string `yaml:"metadata"`
	// FailProperties makes property reads for this clip fail.
	FailProperties bool `yaml:"fail_properties"`
}

type FixtureTimeline struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	FrameRate   float64          `yaml:"frame_rate"`
	StartFrame  int64            `yaml:"start_frame"`
	EndFrame    int64            `yaml:"end_frame"`
	Playhead    string           `yaml:"playhead"`
	VideoTracks [][]FixtureItem  `yaml:"video_tracks"`
	AudioTracks [][]FixtureItem  `yaml:"audio_tracks"`
	Markers     map[int64]Marker `yaml:"markers"`
}

type FixtureItem struct {
	Name     string `yaml:"name"`
	Start    int64  `yaml:"start"`
	End      int64  `yaml:"end"`
	Duration int64  `yaml:"duration"`
	MediaID  string `yaml:"media_id"`
}

// ExportFunc replaces the fixture's still export. call counts from 1.
type ExportFunc func(call int, path string) (bool, error)

// Fixture is an in-memory Session built from a FixtureProject. It records
// every mutating call so tests can assert on playhead and page restoration.
type Fixture struct {
	mu sync.Mutex

	project   FixtureProject
	folders   map[string]*FixtureFolder
	folderIDs map[*FixtureFolder]string
	clips     map[string]*FixtureClip
	timelines map[string]*FixtureTimeline

	current string
	page    string
	calls   []string
	exports int

	// NeverSettle keeps CurrentTimecode from ever reaching a requested target.
	NeverSettle bool
	// Unavailable makes every call fail with ErrUnavailable.
	Unavailable bool
	// Export overrides the default JPEG export when set.
	Export ExportFunc
}

// LoadFixture reads a YAML project snapshot from path.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture builds a Fixture from YAML bytes.
func ParseFixture(data []byte) (*Fixture, error) {
	var p FixtureProject
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return NewFixture(p)
}

// NewFixture indexes p. Folder ids are assigned depth-first as "f0", "f1", ...
func NewFixture(p FixtureProject) (*Fixture, error) {
	f := &Fixture{
		project:   p,
		folders:   make(map[string]*FixtureFolder),
		folderIDs: make(map[*FixtureFolder]string),
		clips:     make(map[string]*FixtureClip),
		timelines: make(map[string]*FixtureTimeline),
		page:      p.CurrentPage,
	}
	if f.project.Root.Name == "" {
		f.project.Root.Name = "Master"
	}
	if f.page == "" {
		f.page = "media"
	}

	n := 0
	var walk func(folder *FixtureFolder) error
	walk = func(folder *FixtureFolder) error {
		f.folders[folderID(n)] = folder
		f.folderIDs[folder] = folderID(n)
		n++
		for i := range folder.Clips {
			c := &folder.Clips[i]
			if c.ID == "" {
				return fmt.Errorf("clip %q has no id", c.Name)
			}
			if _, dup := f.clips[c.ID]; dup {
				return fmt.Errorf("duplicate clip id %q", c.ID)
			}
			f.clips[c.ID] = c
		}
		for i := range folder.Folders {
			if err := walk(&folder.Folders[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(&f.project.Root); err != nil {
		return nil, err
	}

	for i := range f.project.Timelines {
		tl := &f.project.Timelines[i]
		if tl.ID == "" {
			tl.ID = fmt.Sprintf("tl%d", i+1)
		}
		if tl.FrameRate == 0 {
			tl.FrameRate = 24
		}
		if tl.Playhead == "" {
			tl.Playhead = timecode.FromFrames(tl.StartFrame, tl.FrameRate)
		}
		for _, track := range tl.VideoTracks {
			for j := range track {
				it := &track[j]
				if it.Duration == 0 && it.End > it.Start {
					it.Duration = it.End - it.Start
				}
			}
		}
		f.timelines[tl.ID] = tl
	}
	f.current = p.Current
	if f.current == "" && len(f.project.Timelines) > 0 {
		f.current = f.project.Timelines[0].ID
	}
	return f, nil
}

func folderID(n int) string { return fmt.Sprintf("f%d", n) }

// Calls returns the recorded mutating calls in order.
func (f *Fixture) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ExportCount returns how many ExportCurrentFrame calls were made.
func (f *Fixture) ExportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exports
}

// Page returns the page the fixture is currently showing.
func (f *Fixture) Page() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page
}

// Playhead returns the stored playhead of a timeline.
func (f *Fixture) Playhead(timelineID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tl, ok := f.timelines[timelineID]; ok {
		return tl.Playhead
	}
	return ""
}

func (f *Fixture) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.Unavailable {
		return &Error{Op: op, Err: ErrUnavailable}
	}
	return nil
}

func (f *Fixture) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *Fixture) Project(ctx context.Context) (ProjectInfo, error) {
	if err := f.check(ctx, "project"); err != nil {
		return ProjectInfo{}, err
	}
	return ProjectInfo{Name: f.project.Name, TimelineCount: len(f.project.Timelines)}, nil
}

func (f *Fixture) RootFolder(ctx context.Context) (FolderRef, error) {
	if err := f.check(ctx, "root_folder"); err != nil {
		return FolderRef{}, err
	}
	return FolderRef{ID: folderID(0), Name: f.project.Root.Name}, nil
}

func (f *Fixture) FolderClips(ctx context.Context, folderID string) ([]MediaRef, error) {
	if err := f.check(ctx, "folder_clips"); err != nil {
		return nil, err
	}
	folder, ok := f.folders[folderID]
	if !ok {
		return nil, &Error{Op: "folder_clips", Err: ErrNotFound}
	}
	out := make([]MediaRef, 0, len(folder.Clips))
	for _, c := range folder.Clips {
		out = append(out, MediaRef{ID: c.ID, Name: c.Name})
	}
	return out, nil
}

func (f *Fixture) SubFolders(ctx context.Context, id string) ([]FolderRef, error) {
	if err := f.check(ctx, "sub_folders"); err != nil {
		return nil, err
	}
	folder, ok := f.folders[id]
	if !ok {
		return nil, &Error{Op: "sub_folders", Err: ErrNotFound}
	}
	var out []FolderRef
	for i := range folder.Folders {
		child := &folder.Folders[i]
		out = append(out, FolderRef{ID: f.folderIDs[child], Name: child.Name})
	}
	return out, nil
}

func (f *Fixture) ClipProperties(ctx context.Context, mediaID string) (map[string]string, error) {
	if err := f.check(ctx, "clip_properties"); err != nil {
		return nil, err
	}
	c, ok := f.clips[mediaID]
	if !ok {
		return nil, &Error{Op: "clip_properties", Err: ErrNotFound}
	}
	if c.FailProperties {
		return nil, &Error{Op: "clip_properties", Err: fmt.Errorf("property read failed for %s", mediaID)}
	}
	return copyMap(c.Properties), nil
}

func (f *Fixture) ClipMetadata(ctx context.Context, mediaID string) (map[string]string, error) {
	if err := f.check(ctx, "clip_metadata"); err != nil {
		return nil, err
	}
	c, ok := f.clips[mediaID]
	if !ok {
		return nil, &Error{Op: "clip_metadata", Err: ErrNotFound}
	}
	return copyMap(c.Metadata), nil
}

func (f *Fixture) Timelines(ctx context.Context) ([]TimelineRef, error) {
	if err := f.check(ctx, "timelines"); err != nil {
		return nil, err
	}
	out := make([]TimelineRef, 0, len(f.project.Timelines))
	for _, tl := range f.project.Timelines {
		out = append(out, TimelineRef{ID: tl.ID, Name: tl.Name})
	}
	return out, nil
}

func (f *Fixture) CurrentTimeline(ctx context.Context) (TimelineRef, error) {
	if err := f.check(ctx, "current_timeline"); err != nil {
		return TimelineRef{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tl, ok := f.timelines[f.current]
	if !ok {
		return TimelineRef{}, &Error{Op: "current_timeline", Err: ErrNotFound}
	}
	return TimelineRef{ID: tl.ID, Name: tl.Name}, nil
}

func (f *Fixture) SetCurrentTimeline(ctx context.Context, timelineID string) error {
	if err := f.check(ctx, "set_current_timeline"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.timelines[timelineID]; !ok {
		return &Error{Op: "set_current_timeline", Err: ErrNotFound}
	}
	f.current = timelineID
	f.record("timeline %s", timelineID)
	return nil
}

func (f *Fixture) timeline(op, id string) (*FixtureTimeline, error) {
	tl, ok := f.timelines[id]
	if !ok {
		return nil, &Error{Op: op, Err: ErrNotFound}
	}
	return tl, nil
}

func (f *Fixture) TimelineInfo(ctx context.Context, timelineID string) (TimelineInfo, error) {
	if err := f.check(ctx, "timeline_info"); err != nil {
		return TimelineInfo{}, err
	}
	tl, err := f.timeline("timeline_info", timelineID)
	if err != nil {
		return TimelineInfo{}, err
	}
	return TimelineInfo{FrameRate: tl.FrameRate, StartFrame: tl.StartFrame, EndFrame: tl.EndFrame}, nil
}

func (f *Fixture) tracks(tl *FixtureTimeline, kind TrackKind) [][]FixtureItem {
	switch kind {
	case TrackVideo:
		return tl.VideoTracks
	case TrackAudio:
		return tl.AudioTracks
	default:
		return nil
	}
}

func (f *Fixture) TrackCount(ctx context.Context, timelineID string, kind TrackKind) (int, error) {
	if err := f.check(ctx, "track_count"); err != nil {
		return 0, err
	}
	tl, err := f.timeline("track_count", timelineID)
	if err != nil {
		return 0, err
	}
	return len(f.tracks(tl, kind)), nil
}

func (f *Fixture) TrackItems(ctx context.Context, timelineID string, kind TrackKind, index int) ([]TrackItem, error) {
	if err := f.check(ctx, "track_items"); err != nil {
		return nil, err
	}
	tl, err := f.timeline("track_items", timelineID)
	if err != nil {
		return nil, err
	}
	tracks := f.tracks(tl, kind)
	if index < 1 || index > len(tracks) {
		return nil, &Error{Op: "track_items", Err: fmt.Errorf("track %d out of range", index)}
	}
	out := make([]TrackItem, 0, len(tracks[index-1]))
	for _, it := range tracks[index-1] {
		out = append(out, TrackItem{
			Name:     it.Name,
			Start:    it.Start,
			End:      it.End,
			Duration: it.Duration,
			MediaID:  it.MediaID,
		})
	}
	return out, nil
}

func (f *Fixture) Markers(ctx context.Context, timelineID string) (map[int64]Marker, error) {
	if err := f.check(ctx, "markers"); err != nil {
		return nil, err
	}
	tl, err := f.timeline("markers", timelineID)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]Marker, len(tl.Markers))
	for k, v := range tl.Markers {
		out[k] = v
	}
	return out, nil
}

func (f *Fixture) CurrentTimecode(ctx context.Context, timelineID string) (string, error) {
	if err := f.check(ctx, "current_timecode"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tl, err := f.timeline("current_timecode", timelineID)
	if err != nil {
		return "", err
	}
	if f.NeverSettle {
		return timecode.Zero, nil
	}
	return tl.Playhead, nil
}

func (f *Fixture) SetCurrentTimecode(ctx context.Context, timelineID, tc string) error {
	if err := f.check(ctx, "set_current_timecode"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tl, err := f.timeline("set_current_timecode", timelineID)
	if err != nil {
		return err
	}
	if _, err := timecode.ToFrames(tc, tl.FrameRate); err != nil {
		return &Error{Op: "set_current_timecode", Err: err}
	}
	tl.Playhead = tc
	f.record("timecode %s %s", timelineID, tc)
	return nil
}

func (f *Fixture) ExportCurrentFrame(ctx context.Context, path string) (bool, error) {
	if err := f.check(ctx, "export_frame"); err != nil {
		return false, err
	}
	f.mu.Lock()
	f.exports++
	call := f.exports
	hook := f.Export
	f.record("export %s", path)
	f.mu.Unlock()

	if hook != nil {
		return hook(call, path)
	}
	if err := f.WriteStill(path); err != nil {
		return false, nil
	}
	return true, nil
}

// WriteStill writes a small synthetic JPEG for the current playhead to path.
func (f *Fixture) WriteStill(path string) error {
	f.mu.Lock()
	var shade uint8
	if tl, ok := f.timelines[f.current]; ok {
		frames, _ := timecode.ToFrames(tl.Playhead, tl.FrameRate)
		shade = uint8(frames % 200)
	}
	f.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, 48, 27))
	for y := 0; y < 27; y++ {
		for x := 0; x < 48; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x * 5), B: uint8(y * 9), A: 255})
		}
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: 80}); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (f *Fixture) CurrentPage(ctx context.Context) (string, error) {
	if err := f.check(ctx, "current_page"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page, nil
}

func (f *Fixture) OpenPage(ctx context.Context, page string) error {
	if err := f.check(ctx, "open_page"); err != nil {
		return err
	}
	page = strings.ToLower(strings.TrimSpace(page))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.page = page
	f.record("page %s", page)
	return nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Session = (*Fixture)(nil)
