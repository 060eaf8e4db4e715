package catalog

import (
	"path/filepath"
	"strconv"
	"strings"
)

// ClassificationPolicy names the rule set Classify implements. Earlier
// revisions counted stills separately and had no extension fallback; this
// one folds stills into other and adds the audio extension allowlist.
const ClassificationPolicy = "v2"

// AudioExtensions is the allowlist consulted when no stronger signal exists.
var AudioExtensions = map[string]bool{
	".wav":  true,
	".aif":  true,
	".aiff": true,
	".mp3":  true,
	".m4a":  true,
	".aac":  true,
	".flac": true,
	".ogg":  true,
	".bwf":  true,
	".caf":  true,
}

// Classify maps a property bag to a ClipKind. Rules apply in order:
// type tag, video codec, audio channels without video, audio extension.
func Classify(props map[string]string) ClipKind {
	typ := strings.ToLower(props[PropType])
	switch {
	case strings.Contains(typ, "video"):
		return KindVideo
	case strings.Contains(typ, "audio"):
		return KindAudio
	}

	hasVideoCodec := present(props[PropVideoCodec])
	if hasVideoCodec {
		return KindVideo
	}

	if ch, err := strconv.Atoi(strings.TrimSpace(props[PropAudioChannels])); err == nil && ch > 0 {
		return KindAudio
	}

	if p := props[PropFilePath]; p != "" && AudioExtensions[strings.ToLower(filepath.Ext(p))] {
		return KindAudio
	}
	return KindOther
}

func present(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !strings.EqualFold(v, "N/A")
}
