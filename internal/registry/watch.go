package registry

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads the registry file at path into r whenever it is written and
// calls onAdded with any hosts that were not registered before. It runs until
// ctx is cancelled.
//
// A failed reload is logged and the previous registry stays active.
func Watch(ctx context.Context, path string, r *Registry, onAdded func(hosts []string), logger *logrus.Entry) error {
	log := logger.WithFields(logrus.Fields{"component": "registry_watch", "path": path})

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	log.Info("watching registry for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, so Create counts as a write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			sites, err := Load(path)
			if err != nil {
				log.WithError(err).Error("registry reload failed, keeping previous registry")
				continue
			}

			added := r.Replace(sites)
			log.WithFields(logrus.Fields{
				"sites": len(sites),
				"added": len(added),
			}).Info("registry reloaded")
			if len(added) > 0 && onAdded != nil {
				onAdded(added)
			}

			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Error("registry watcher error")
		}
	}
}
