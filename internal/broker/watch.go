package broker

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watch calls fn for every command file already in the directory and then
// for each file created or modified until ctx is cancelled. fn runs on the
// watch goroutine, one call at a time.
func (b *Broker) Watch(ctx context.Context, fn func(ctx context.Context, path string)) error {
	if err := b.ensureDir(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create broker watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(b.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", b.dir, err)
	}

	// Enumerate after the watch is in place so nothing written in between
	// is missed. Files seen twice are handled by the caller.
	existing, err := b.List()
	if err != nil {
		b.log.WithError(err).Warn("Failed to enumerate existing command files")
	}
	for _, path := range existing {
		if ctx.Err() != nil {
			return nil
		}
		fn(ctx, path)
	}

	b.log.WithField("dir", b.dir).Debug("Watching broker directory")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("broker watcher for %s closed", b.dir)
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if _, _, ok := ParseFileName(event.Name); !ok {
				continue
			}
			fn(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("broker watcher for %s closed", b.dir)
			}
			b.log.WithError(err).Warn("Broker watcher error")
		}
	}
}
