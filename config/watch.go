package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch re-reads the configuration file whenever it changes and hands
// the result to onChange. Only the convergence tuning is meant to be
// picked up at runtime; the callers ignore the rest. A file that fails
// to parse is logged and skipped, the previous configuration stays in
// effect.
//
// The returned stop function ends the watch and releases the watcher.
func Watch(cfile string, onChange func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors typically replace the
	// file on save, which would silently end a file watch.
	if err := watcher.Add(filepath.Dir(cfile)); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(cfile) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				conf, err := Read(cfile)
				if err != nil {
					slog.Warn("Ignoring config change", "file", cfile, "error", err)
					continue
				}
				slog.Info("Configuration reloaded", "file", cfile)
				onChange(conf)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Config watcher error", "error", err)
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
