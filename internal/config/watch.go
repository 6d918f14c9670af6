package config

import (
	"context"
	"os"
	"time"
)

// WatchCatalog loads rooms.yaml, hands it to onUpdate, then polls the file
// every interval. A change reaches onUpdate only when the room or slot data
// differs from the last delivered catalog, so saves that only touch the file
// or edit comments do not resync the ledger. A file that fails to load keeps
// the previous catalog in force and is reported to onError once per change.
func WatchCatalog(ctx context.Context, path string, interval time.Duration, onUpdate func(*Catalog), onError func(error)) error {
	if path == "" {
		path = "configs/rooms.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	c, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	w := &catalogWatch{
		path:     path,
		onUpdate: onUpdate,
		onError:  onError,
		last:     c.Fingerprint(),
		modTime:  info.ModTime(),
		size:     info.Size(),
	}
	if onUpdate != nil {
		onUpdate(c)
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.poll()
			}
		}
	}()
	return nil
}

type catalogWatch struct {
	path     string
	onUpdate func(*Catalog)
	onError  func(error)
	last     uint64
	modTime  time.Time
	size     int64
}

func (w *catalogWatch) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		// the file may be mid-rename by an editor
		return
	}
	if info.ModTime().Equal(w.modTime) && info.Size() == w.size {
		return
	}
	w.modTime, w.size = info.ModTime(), info.Size()

	c, err := LoadCatalog(w.path)
	if err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	fp := c.Fingerprint()
	if fp == w.last {
		return
	}
	w.last = fp
	if w.onUpdate != nil {
		w.onUpdate(c)
	}
}
