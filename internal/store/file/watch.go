package file

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch calls fn with the key of every state file that is created, written
// or removed in the store directory, including changes made by other
// processes. It returns once the watcher is registered; events are delivered
// from a background goroutine until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, fn func(key string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(s.baseDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.baseDir, err)
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if !event.Op.Has(fsnotify.Write) &&
					!event.Op.Has(fsnotify.Create) &&
					!event.Op.Has(fsnotify.Remove) &&
					!event.Op.Has(fsnotify.Rename) {
					continue
				}

				key, ok := keyFromPath(event.Name)
				if !ok {
					continue
				}

				log.Debug().Str("key", key).Str("op", event.Op.String()).Msg("state file changed")
				fn(key)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("state watcher error")
			}
		}
	}()

	return nil
}
