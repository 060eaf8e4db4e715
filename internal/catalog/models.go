// Package catalog reads the project's media pool and timelines through a
// session: clip classification, size statistics and the per-run clip cache.
package catalog

import (
	"path/filepath"
	"sort"
)

// ClipKind is the coarse media class used in project stats.
type ClipKind string

const (
	KindVideo ClipKind = "video"
	KindAudio ClipKind = "audio"
	KindOther ClipKind = "other"
)

// Well-known property and metadata keys.
const (
	PropType          = "Type"
	PropVideoCodec    = "Video Codec"
	PropAudioChannels = "Audio Channels"
	PropFilePath      = "File Path"
	PropFileName      = "File Name"
	PropProxyPath     = "Proxy Media Path"
	PropStartTC       = "Start TC"
	PropEndTC         = "End TC"
	PropDuration      = "Duration"
	PropFPS           = "FPS"
	PropResolution    = "Resolution"
	PropDateCreated   = "Date Created"

	MetaScene    = "Scene"
	MetaShot     = "Shot"
	MetaTake     = "Take"
	MetaAngle    = "Angle"
	MetaMove     = "Move"
	MetaDayNight = "Day / Night"
	MetaGoodTake = "Good Take"
)

type Project struct {
	Name      string            `json:"name"`
	Root      *Folder           `json:"-"`
	Timelines []TimelineSummary `json:"timelines"`
	Stats     Stats             `json:"stats"`
}

// Stats aggregates the media pool.
type Stats struct {
	Video     int   `json:"video"`
	Audio     int   `json:"audio"`
	Other     int   `json:"other"`
	Timelines int   `json:"timelines"`
	TotalSize int64 `json:"total_size"`
}

// Folder is a media-pool bin. Children keep session enumeration order.
type Folder struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Clips   []*Clip   `json:"clips"`
	Folders []*Folder `json:"folders"`
}

// Walk visits every clip depth-first, folder clips before sub-folders.
func (f *Folder) Walk(fn func(*Clip)) {
	if f == nil {
		return
	}
	for _, c := range f.Clips {
		fn(c)
	}
	for _, sub := range f.Folders {
		sub.Walk(fn)
	}
}

type Clip struct {
	MediaID    string            `json:"media_id"`
	Name       string            `json:"name"`
	Kind       ClipKind          `json:"kind"`
	Properties map[string]string `json:"properties"`
	Metadata   map[string]string `json:"metadata"`
	FileSize   int64             `json:"file_size"`
	SizeKnown  bool              `json:"size_known"`
}

// Property returns a property value, or "" when the clip or key is missing.
func (c *Clip) Property(key string) string {
	if c == nil {
		return ""
	}
	return c.Properties[key]
}

// Meta returns a metadata value, or "" when the clip or key is missing.
func (c *Clip) Meta(key string) string {
	if c == nil {
		return ""
	}
	return c.Metadata[key]
}

// FilePath is the on-disk source path, if the session reported one.
func (c *Clip) FilePath() string {
	return c.Property(PropFilePath)
}

// FileName falls back to the base of the file path.
func (c *Clip) FileName() string {
	if n := c.Property(PropFileName); n != "" {
		return n
	}
	if p := c.FilePath(); p != "" {
		return filepath.Base(p)
	}
	return ""
}

// Fields merges properties and metadata; metadata wins on key clash.
func (c *Clip) Fields() map[string]string {
	out := make(map[string]string, len(c.Properties)+len(c.Metadata))
	for k, v := range c.Properties {
		out[k] = v
	}
	for k, v := range c.Metadata {
		out[k] = v
	}
	return out
}

// TimelineSummary is a timeline as listed for selection.
type TimelineSummary struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	FrameRate float64 `json:"frame_rate"`
	ClipCount int     `json:"clip_count"`
	TotalSize int64   `json:"total_size"`
}

type Timeline struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	FrameRate  float64     `json:"frame_rate"`
	StartFrame int64       `json:"start_frame"`
	EndFrame   int64       `json:"end_frame"`
	Items      []TrackItem `json:"items"`
	Markers    []Marker    `json:"markers"`
}

// TrackItem is a clip placed on a video track. Clip is nil when the item has
// no backing media.
type TrackItem struct {
	Name     string `json:"name"`
	Track    int    `json:"track"`
	Index    int    `json:"index"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Duration int64  `json:"duration"`
	MediaID  string `json:"media_id,omitempty"`
	Clip     *Clip  `json:"-"`
}

// HasMedia reports whether the item resolves to a media-pool clip.
func (it *TrackItem) HasMedia() bool {
	return it != nil && it.Clip != nil
}

// Marker offsets are 1-based frames from the timeline start.
type Marker struct {
	Offset   int64  `json:"offset"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Note     string `json:"note"`
	Duration int64  `json:"duration"`
}

// MediaItems returns the items that have backing media, in placement order.
func (t *Timeline) MediaItems() []*TrackItem {
	var out []*TrackItem
	for i := range t.Items {
		if t.Items[i].HasMedia() {
			out = append(out, &t.Items[i])
		}
	}
	return out
}

// Summary derives the clip count and the size deduplicated by media id.
func (t *Timeline) Summary() TimelineSummary {
	s := TimelineSummary{ID: t.ID, Name: t.Name, FrameRate: t.FrameRate}
	seen := make(map[string]bool)
	for _, it := range t.MediaItems() {
		s.ClipCount++
		if seen[it.Clip.MediaID] {
			continue
		}
		seen[it.Clip.MediaID] = true
		s.TotalSize += it.Clip.FileSize
	}
	return s
}

// ItemAt returns the media item covering an absolute frame, if any.
func (t *Timeline) ItemAt(frame int64) *TrackItem {
	for _, it := range t.MediaItems() {
		if frame >= it.Start && frame < it.End {
			return it
		}
	}
	return nil
}

func sortMarkers(ms []Marker) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].Offset < ms[j].Offset })
}
