// Package apps discovers the desktop applications installed on the machine.
package apps

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const watchDebounce = 200 * time.Millisecond

// Directory holds the application list built from .desktop files. Reads get a
// snapshot; Reload swaps in a freshly built list.
type Directory struct {
	dirs  []string
	icons IconResolver
	log   zerolog.Logger

	mu   sync.RWMutex
	apps []Application

	group singleflight.Group
}

type Option func(d *Directory)

func WithLogger(l zerolog.Logger) Option {
	return func(d *Directory) {
		d.log = l
	}
}

// NewDirectory creates an empty directory; call Load to populate it.
func NewDirectory(dirs []string, icons IconResolver, opts ...Option) *Directory {
	d := &Directory{
		dirs:  dirs,
		icons: icons,
		log:   zerolog.Nop(),
		apps:  []Application{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// List returns a copy of the current application list, ordered by display name.
func (d *Directory) List() []Application {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Application, len(d.apps))
	copy(out, d.apps)
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.apps)
}

// Load scans the application directories and replaces the list. Missing
// directories and unreadable entries are skipped.
func (d *Directory) Load() error {
	apps, err := d.scan()
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.apps = apps
	d.mu.Unlock()
	d.log.Info().Int("count", len(apps)).Msg("loaded applications")
	return nil
}

// Reload is Load with concurrent callers sharing one scan.
func (d *Directory) Reload() error {
	_, err, shared := d.group.Do("load", func() (any, error) {
		return nil, d.Load()
	})
	if shared {
		d.log.Debug().Msg("application reload coalesced")
	}
	return err
}

func (d *Directory) scan() ([]Application, error) {
	seen := make(map[string]bool)
	var apps []Application

	for _, root := range d.dirs {
		err := filepath.WalkDir(root, func(path string, e fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && path == root {
					d.log.Warn().Str("dir", root).Msg("application directory doesn't exist")
					return filepath.SkipDir
				}
				d.log.Warn().Err(err).Str("path", path).Msg("skipping unreadable path")
				if e != nil && e.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".desktop") {
				return nil
			}
			name := strings.TrimSuffix(e.Name(), ".desktop")
			if seen[name] {
				return nil
			}
			app, err := d.loadFile(path, name)
			if err != nil {
				d.log.Debug().Err(err).Str("file", path).Msg("skipping desktop entry")
				return nil
			}
			seen[name] = true
			apps = append(apps, app)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", root, err)
		}
	}

	sort.SliceStable(apps, func(i, j int) bool {
		if apps[i].FullName != apps[j].FullName {
			return apps[i].FullName < apps[j].FullName
		}
		return apps[i].Name < apps[j].Name
	})
	if apps == nil {
		apps = []Application{}
	}
	return apps, nil
}

func (d *Directory) loadFile(path, name string) (Application, error) {
	f, err := os.Open(path)
	if err != nil {
		return Application{}, err
	}
	defer f.Close()

	app, err := ParseDesktopEntry(f, name)
	if err != nil {
		return Application{}, err
	}

	iconPath := d.icons.Lookup(app.iconPath)
	app.iconPath = iconPath
	if iconPath == "" {
		d.log.Debug().Str("app", name).Msg("no icon found")
		return app, nil
	}
	data, err := os.ReadFile(iconPath)
	if err != nil {
		d.log.Warn().Err(err).Str("icon", iconPath).Msg("failed to read icon")
		return app, nil
	}
	app.IconType = IconType(iconPath)
	app.Icon = base64.StdEncoding.EncodeToString(data)
	return app, nil
}

// Watch reloads the list whenever a .desktop file under the application
// directories changes. Bursts of events are folded into one reload. The
// watcher stops when ctx is done.
func (d *Directory) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	added := 0
	for _, root := range d.dirs {
		_ = filepath.WalkDir(root, func(path string, e fs.DirEntry, err error) error {
			if err != nil || !e.IsDir() {
				return nil
			}
			if err := w.Add(path); err != nil {
				d.log.Warn().Err(err).Str("dir", path).Msg("can't watch directory")
				return nil
			}
			added++
			return nil
		})
	}
	if added == 0 {
		_ = w.Close()
		return errors.New("no application directory to watch")
	}

	go d.watchLoop(ctx, w)
	return nil
}

func (d *Directory) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()

	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
					continue
				}
			}
			if !strings.HasSuffix(ev.Name, ".desktop") {
				continue
			}
			pending = true
			debounce.Reset(watchDebounce)

		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			if err := d.Reload(); err != nil {
				d.log.Error().Err(err).Msg("failed to reload applications")
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			d.log.Warn().Err(err).Msg("watcher error")
		}
	}
}
