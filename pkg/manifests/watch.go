package manifests

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch evicts cached manifests whose files are written, renamed or removed
// outside this process. It returns once the watcher is running; the watch
// stops when ctx is cancelled. onChange, if non-nil, is called with each
// evicted id.
func (s *FileStore) Watch(ctx context.Context, onChange func(id string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	go s.processEvents(ctx, watcher, onChange)

	s.logger.Info().Str("dir", s.dir).Msg("Watching manifest directory")
	return nil
}

func (s *FileStore) processEvents(ctx context.Context, watcher *fsnotify.Watcher, onChange func(string)) {
	defer func() { _ = watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Create) {
				continue
			}

			id, ok := idFromFilename(filepath.Base(event.Name))
			if !ok {
				continue
			}

			s.evict(id)
			s.logger.Debug().
				Str("id", id).
				Str("op", event.Op.String()).
				Msg("Manifest changed, cache evicted")
			if onChange != nil {
				onChange(id)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("Manifest watcher error")
		}
	}
}
