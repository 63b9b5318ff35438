// Package archive writes the images of an accepted slot into the dated
// per-channel directory tree.
package archive

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path"
	"time"

	"github.com/care/oviss/internal/types"
)

// Config controls file naming and encoding
type Config struct {
	StoreID           string
	JPEGQuality       int
	PlaceholderWidth  int
	PlaceholderHeight int
}

// DefaultConfig returns 95% JPEG quality and 640x480 placeholders
func DefaultConfig() Config {
	return Config{
		StoreID:           "70144481",
		JPEGQuality:       95,
		PlaceholderWidth:  640,
		PlaceholderHeight: 480,
	}
}

// Entry is one file of a slot. A nil Frame marks a placeholder.
type Entry struct {
	Channel   types.Channel
	Frame     *types.Frame
	Timestamp time.Time
}

// Writer encodes slot entries and stores them in a primary sink, copying
// each file to any mirrors. Mirror failures are logged, not returned.
type Writer struct {
	cfg     Config
	primary Sink
	mirrors []Sink

	// OnMirrorError is called for each failed mirror upload
	OnMirrorError func(err error)
}

// NewWriter creates a writer. Zero config fields take defaults.
func NewWriter(cfg Config, primary Sink, mirrors ...Sink) *Writer {
	def := DefaultConfig()
	if cfg.StoreID == "" {
		cfg.StoreID = def.StoreID
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.PlaceholderWidth <= 0 {
		cfg.PlaceholderWidth = def.PlaceholderWidth
	}
	if cfg.PlaceholderHeight <= 0 {
		cfg.PlaceholderHeight = def.PlaceholderHeight
	}
	return &Writer{cfg: cfg, primary: primary, mirrors: mirrors}
}

// Key returns storeID/channel/YYYYMMDD/"YYYY_MM_DD HH_MM".jpg
func Key(storeID string, ch types.Channel, ts time.Time) string {
	return path.Join(
		storeID,
		ch.String(),
		ts.Format("20060102"),
		ts.Format("2006_01_02 15_04")+".jpg",
	)
}

// WriteSlot writes every entry, naming all files after the first entry's
// timestamp. It continues past individual failures and returns the records
// written together with the joined errors.
func (w *Writer) WriteSlot(ctx context.Context, entries []Entry) ([]types.ArchiveRecord, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	ts := entries[0].Timestamp

	var (
		records []types.ArchiveRecord
		errs    []error
	)
	for _, e := range entries {
		rec, err := w.writeEntry(ctx, e, ts)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", e.Channel, err))
			continue
		}
		records = append(records, rec)
	}
	return records, errors.Join(errs...)
}

func (w *Writer) writeEntry(ctx context.Context, e Entry, ts time.Time) (types.ArchiveRecord, error) {
	var (
		img         image.Image
		placeholder = e.Frame == nil
	)
	if placeholder {
		img = Placeholder(w.cfg.PlaceholderWidth, w.cfg.PlaceholderHeight)
	} else {
		rgba, err := FrameImage(e.Frame)
		if err != nil {
			return types.ArchiveRecord{}, err
		}
		img = rgba
	}

	data, err := EncodeJPEG(img, w.cfg.JPEGQuality)
	if err != nil {
		return types.ArchiveRecord{}, err
	}

	key := Key(w.cfg.StoreID, e.Channel, ts)
	location, err := w.primary.Put(ctx, key, data)
	if err != nil {
		return types.ArchiveRecord{}, err
	}

	for _, m := range w.mirrors {
		if _, err := m.Put(ctx, key, data); err != nil {
			slog.Warn("archive mirror upload failed", "key", key, "error", err)
			if w.OnMirrorError != nil {
				w.OnMirrorError(err)
			}
		}
	}

	if placeholder {
		slog.Info("saved gray image", "channel", int(e.Channel), "path", location)
	} else {
		slog.Info("saved valid frame", "channel", int(e.Channel), "path", location, "trace_id", e.Frame.TraceID)
	}

	return types.ArchiveRecord{
		Channel:     e.Channel,
		Path:        location,
		Placeholder: placeholder,
		Bytes:       len(data),
	}, nil
}
