package credstore

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the store whenever a file under its directory is written,
// created, or renamed. Watch failures are logged and never fatal: the
// periodic quota refresher and explicit Load calls remain the fallback
// path if the watch cannot be established.
func (s *Store) Watch(ctx context.Context, onReload func([]Entry)) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.WithError(err).Warn("credstore: fsnotify unavailable, relying on periodic reload")
		return
	}

	if err := watcher.Add(s.dir); err != nil {
		s.log.WithError(err).Warn("credstore: failed to watch auths directory")
		_ = watcher.Close()
		return
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				entries, err := s.Load()
				if err != nil {
					s.log.WithError(err).Warn("credstore: reload after fsnotify event failed")
					continue
				}
				if onReload != nil {
					onReload(entries)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.WithError(err).Warn("credstore: fsnotify error")
			}
		}
	}()
}
