package capture

import (
	"fmt"
	"time"
)

const bytesPerMB = 1 << 20

// ClipView is the JSON shape of a gallery entry.
type ClipView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	SizeLabel   string    `json:"size_label"`
	Type        string    `json:"type"`
	Source      Source    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
	PlaybackURL string    `json:"playback_url"`
}

// BuildListing converts clips (in gallery order) into their JSON views.
// An empty gallery produces an empty, non-nil slice so it encodes as [].
func BuildListing(clips []Clip) []ClipView {
	out := make([]ClipView, 0, len(clips))
	for _, c := range clips {
		out = append(out, viewOf(c))
	}
	return out
}

func viewOf(c Clip) ClipView {
	return ClipView{
		ID:          c.ID.String(),
		Name:        c.Name,
		Size:        c.Size,
		SizeLabel:   SizeLabel(c.Size),
		Type:        c.Type,
		Source:      c.Source,
		CreatedAt:   c.CreatedAt,
		PlaybackURL: c.PlaybackPath(),
	}
}

// SizeLabel renders a byte count as megabytes with two decimals, e.g. "1.91 MB".
func SizeLabel(size int64) string {
	if size < 0 {
		size = 0
	}
	return fmt.Sprintf("%.2f MB", float64(size)/bytesPerMB)
}
