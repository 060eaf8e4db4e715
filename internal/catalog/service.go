package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ditkit/ditreport/internal/session"
)

// ClipCache holds clips resolved during one run, keyed by media id.
type ClipCache map[string]*Clip

// Catalog reads and normalizes the project from a live session. It keeps no
// state between calls; every run rebuilds what it needs.
type Catalog struct {
	sess   session.Session
	logger *slog.Logger
	stat   func(string) (os.FileInfo, error)
}

func NewCatalog(sess session.Session, logger *slog.Logger) *Catalog {
	return &Catalog{sess: sess, logger: logger, stat: os.Stat}
}

// Scan walks the media pool depth-first and aggregates stats. Individual
// clip failures land in the other bucket; only an unavailable session fails
// the scan.
func (c *Catalog) Scan(ctx context.Context) (*Project, error) {
	info, err := c.sess.Project(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read project: %w", err)
	}
	rootRef, err := c.sess.RootFolder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read media pool: %w", err)
	}

	project := &Project{Name: info.Name, Stats: Stats{Timelines: info.TimelineCount}}
	cache := make(ClipCache)
	project.Root, err = c.scanFolder(ctx, rootRef, cache)
	if err != nil {
		return nil, err
	}

	project.Root.Walk(func(clip *Clip) {
		switch clip.Kind {
		case KindVideo:
			project.Stats.Video++
		case KindAudio:
			project.Stats.Audio++
		default:
			project.Stats.Other++
		}
		if clip.SizeKnown {
			project.Stats.TotalSize += clip.FileSize
		}
	})

	if c.logger != nil {
		c.logger.Info("project scanned",
			"project", project.Name,
			"video", project.Stats.Video,
			"audio", project.Stats.Audio,
			"other", project.Stats.Other,
			"total_size", project.Stats.TotalSize,
		)
	}
	return project, nil
}

func (c *Catalog) scanFolder(ctx context.Context, ref session.FolderRef, cache ClipCache) (*Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	folder := &Folder{ID: ref.ID, Name: ref.Name}

	refs, err := c.sess.FolderClips(ctx, ref.ID)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		c.warn("failed to list folder clips", "folder", ref.Name, "error", err)
	}
	for _, mr := range refs {
		clip, err := c.resolve(ctx, mr.ID, mr.Name, cache)
		if err != nil {
			return nil, err
		}
		if clip == nil {
			continue
		}
		folder.Clips = append(folder.Clips, clip)
	}

	subs, err := c.sess.SubFolders(ctx, ref.ID)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		c.warn("failed to list sub-folders", "folder", ref.Name, "error", err)
	}
	for _, sub := range subs {
		child, err := c.scanFolder(ctx, sub, cache)
		if err != nil {
			return nil, err
		}
		folder.Folders = append(folder.Folders, child)
	}
	return folder, nil
}

// resolve loads a clip once per cache. Property or metadata read failures
// are logged and leave the clip classified as other; the returned error is
// non-nil only for an unavailable session or a cancelled context. Unknown
// media ids resolve to a nil clip.
func (c *Catalog) resolve(ctx context.Context, mediaID, name string, cache ClipCache) (*Clip, error) {
	if clip, ok := cache[mediaID]; ok {
		return clip, nil
	}
	clip := &Clip{MediaID: mediaID, Name: name, Kind: KindOther}

	props, err := c.sess.ClipProperties(ctx, mediaID)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		if errors.Is(err, session.ErrNotFound) {
			cache[mediaID] = nil
			return nil, nil
		}
		c.warn("failed to read clip properties", "clip", name, "error", err)
		props = map[string]string{}
	} else {
		clip.Kind = Classify(props)
	}
	clip.Properties = props

	meta, err := c.sess.ClipMetadata(ctx, mediaID)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		c.warn("failed to read clip metadata", "clip", name, "error", err)
		meta = map[string]string{}
	}
	clip.Metadata = meta

	if clip.Name == "" {
		clip.Name = props["Clip Name"]
	}

	if p := clip.FilePath(); p != "" {
		fi, err := c.stat(p)
		if err != nil {
			if c.logger != nil {
				c.logger.Debug("could not stat media file", "path", p, "error", err)
			}
		} else {
			clip.FileSize = fi.Size()
			clip.SizeKnown = true
		}
	}

	cache[mediaID] = clip
	return clip, nil
}

// Timelines lists timeline refs in session order.
func (c *Catalog) Timelines(ctx context.Context) ([]session.TimelineRef, error) {
	refs, err := c.sess.Timelines(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list timelines: %w", err)
	}
	return refs, nil
}

// ListTimelines loads every timeline and summarizes it. A timeline that fails
// to load is listed with its name only.
func (c *Catalog) ListTimelines(ctx context.Context) ([]TimelineSummary, error) {
	refs, err := c.Timelines(ctx)
	if err != nil {
		return nil, err
	}
	cache := make(ClipCache)
	out := make([]TimelineSummary, 0, len(refs))
	for _, ref := range refs {
		tl, err := c.LoadTimeline(ctx, ref, cache)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			c.warn("failed to load timeline", "timeline", ref.Name, "error", err)
			out = append(out, TimelineSummary{ID: ref.ID, Name: ref.Name})
			continue
		}
		out = append(out, tl.Summary())
	}
	return out, nil
}

// Resolve matches selectors against timeline ids and names, keeping the
// selection order. An empty selection means the current timeline. Selectors
// that match nothing are returned in missing.
func (c *Catalog) Resolve(ctx context.Context, selectors []string) (found []session.TimelineRef, missing []string, err error) {
	if len(selectors) == 0 {
		cur, err := c.sess.CurrentTimeline(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read current timeline: %w", err)
		}
		return []session.TimelineRef{cur}, nil, nil
	}

	refs, err := c.Timelines(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, sel := range selectors {
		matched := false
		for _, ref := range refs {
			if ref.ID == sel || ref.Name == sel {
				found = append(found, ref)
				matched = true
				break
			}
		}
		if !matched {
			missing = append(missing, sel)
		}
	}
	return found, missing, nil
}

// LoadTimeline reads frame settings, video-track items in track order and
// markers sorted by offset. Items whose media cannot be resolved keep a nil
// Clip. cache may be nil.
func (c *Catalog) LoadTimeline(ctx context.Context, ref session.TimelineRef, cache ClipCache) (*Timeline, error) {
	if cache == nil {
		cache = make(ClipCache)
	}
	info, err := c.sess.TimelineInfo(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read timeline %q: %w", ref.Name, err)
	}
	tl := &Timeline{
		ID:         ref.ID,
		Name:       ref.Name,
		FrameRate:  info.FrameRate,
		StartFrame: info.StartFrame,
		EndFrame:   info.EndFrame,
	}

	tracks, err := c.sess.TrackCount(ctx, ref.ID, session.TrackVideo)
	if err != nil {
		return nil, fmt.Errorf("failed to count tracks of %q: %w", ref.Name, err)
	}
	for track := 1; track <= tracks; track++ {
		items, err := c.sess.TrackItems(ctx, ref.ID, session.TrackVideo, track)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			c.warn("failed to read track items", "timeline", ref.Name, "track", track, "error", err)
			continue
		}
		for i, it := range items {
			ti := TrackItem{
				Name:     it.Name,
				Track:    track,
				Index:    i,
				Start:    it.Start,
				End:      it.End,
				Duration: it.Duration,
				MediaID:  it.MediaID,
			}
			if it.MediaID != "" {
				clip, err := c.resolve(ctx, it.MediaID, "", cache)
				if err != nil {
					return nil, err
				}
				if clip != nil && clip.Name == "" {
					clip.Name = it.Name
				}
				ti.Clip = clip
			}
			tl.Items = append(tl.Items, ti)
		}
	}

	markers, err := c.sess.Markers(ctx, ref.ID)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		c.warn("failed to read markers", "timeline", ref.Name, "error", err)
	}
	for offset, m := range markers {
		tl.Markers = append(tl.Markers, Marker{
			Offset:   offset,
			Name:     m.Name,
			Color:    m.Color,
			Note:     m.Note,
			Duration: m.Duration,
		})
	}
	sortMarkers(tl.Markers)
	return tl, nil
}

func (c *Catalog) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

// fatal reports errors that must stop a traversal.
func fatal(err error) bool {
	return session.IsUnavailable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
