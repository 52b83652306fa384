package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// watchAndRun calls run once, then again every time path is written, until
// ctx is cancelled. Failed runs are reported and watching continues.
func watchAndRun(ctx context.Context, w io.Writer, path string, run func(context.Context) error) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file on save, so watch its directory.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	once := func() {
		if err := run(ctx); err != nil && !errors.Is(err, errTestsFailed) && ctx.Err() == nil {
			printStatus(w, "✗", err.Error(), color.FgRed)
		}
		if ctx.Err() == nil {
			printStatus(w, "…", fmt.Sprintf("watching %s for changes (Ctrl-C to stop)", path), color.FgCyan)
		}
	}
	once()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&fsnotify.Write != 0 || event.Op&fsnotify.Create != 0 {
				debounce = time.After(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[watch] WARNING: %v", err)
		case <-debounce:
			debounce = nil
			fmt.Fprintln(w)
			once()
		}
	}
}
