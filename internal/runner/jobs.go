package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ditkit/ditreport/internal/engine"
	"github.com/ditkit/ditreport/internal/export"
	"github.com/ditkit/ditreport/internal/history"
	"github.com/ditkit/ditreport/internal/progress"
)

func (r *Runner) job(req Request) engine.RunFunc {
	return Job(r.engine, req, r.outputDir, r.now)
}

// Job binds req to the engine operation that serves it. Artifacts go to
// req.OutputDir, or to outputDir when the request names none, and are
// written only after the engine succeeds.
func Job(eng *engine.Engine, req Request, outputDir string, now func() time.Time) engine.RunFunc {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, obs progress.Observer) (engine.Outcome, error) {
		dir, err := targetDir(req, outputDir)
		if err != nil {
			return engine.Outcome{}, err
		}

		switch req.Kind {
		case history.KindDocument:
			res, err := eng.GenerateDocumentReport(ctx, req.Selection, obs)
			if err != nil {
				return engine.Outcome{}, err
			}
			path := filepath.Join(dir, export.ArtifactName(prefix(req.Selection.Title, "report"), "pdf", now()))
			if err := writeArtifact(path, res.Bytes); err != nil {
				return engine.Outcome{}, err
			}
			return engine.Outcome{FilePath: path, Units: res.Units, Failures: res.Failures}, nil

		case history.KindTable:
			res, err := eng.GenerateTableReport(ctx, req.Selection, obs)
			if err != nil {
				return engine.Outcome{}, err
			}
			var path string
			if req.Format == FormatParquet {
				path = filepath.Join(dir, export.ArtifactName(prefix(req.Selection.Title, "clips"), "parquet", now()))
				err = writeWith(path, func(f *os.File) error { return export.WriteParquet(f, res.Rows) })
			} else {
				path = filepath.Join(dir, export.ArtifactName(prefix(req.Selection.Title, "clips"), "csv", now()))
				err = writeArtifact(path, []byte(res.Text))
			}
			if err != nil {
				return engine.Outcome{}, err
			}
			return engine.Outcome{FilePath: path, Units: len(res.Rows), Failures: res.Failures}, nil

		case history.KindEDL:
			res, err := eng.GenerateTableReport(ctx, req.Selection, obs)
			if err != nil {
				return engine.Outcome{}, err
			}
			var paths []string
			for _, tl := range res.Timelines {
				title := req.Selection.Title
				if title == "" {
					title = tl.Name
				}
				path := filepath.Join(dir, export.ArtifactName(tl.Name, "edl", now()))
				if err := writeArtifact(path, []byte(export.GenerateEDL(title, tl))); err != nil {
					return engine.Outcome{}, err
				}
				paths = append(paths, path)
			}
			out := engine.Outcome{FilePath: dir, Units: len(res.Rows), Failures: res.Failures}
			if len(paths) == 1 {
				out.FilePath = paths[0]
			}
			return out, nil

		case history.KindThumbnails:
			if req.OutputDir == "" {
				dir = filepath.Join(dir, fmt.Sprintf("%s_%d", prefix(req.Selection.Title, "thumbnails"), now().UnixMilli()))
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return engine.Outcome{}, fmt.Errorf("failed to create thumbnail directory: %w", err)
				}
			}
			res, err := eng.CaptureThumbnailBatch(ctx, req.Selection, dir, obs)
			if err != nil {
				return engine.Outcome{}, err
			}
			return engine.Outcome{FilePath: res.OutputDir, Units: len(res.Files) + len(res.Failures), Failures: res.Failures}, nil
		}
		return engine.Outcome{}, fmt.Errorf("unknown run kind %q", req.Kind)
	}
}

func targetDir(req Request, fallback string) (string, error) {
	if req.OutputDir != "" {
		if req.Kind == history.KindThumbnails {
			return req.OutputDir, nil
		}
		return req.OutputDir, export.ValidateOutputDir(req.OutputDir)
	}
	if err := os.MkdirAll(fallback, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return fallback, nil
}

func prefix(title, fallback string) string {
	if t := export.SanitizeName(title, 48); t != "" {
		return strings.ReplaceAll(t, " ", "_")
	}
	return fallback
}

// writeArtifact writes data next to path and renames it into place so a
// failed write never leaves a partial artifact.
func writeArtifact(path string, data []byte) error {
	return writeWith(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

func writeWith(path string, fill func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}
