package configstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/kbukum/meshkit/component"
	"github.com/kbukum/meshkit/logger"
)

// Extensions LoadDirectory reads.
var Extensions = []string{".yml", ".yaml", ".json", ".toml"}

// FileKey names the snapshot a file seeds.
type FileKey struct {
	Application string
	Profile     string
	Label       string
	Path        string
}

// ScanDirectory lists the seed files under dir without reading them.
// Files directly in dir use label "main"; files in a subdirectory use the
// subdirectory name as label. A file is named <application>-<profile>.<ext>,
// split at the last dash; a name without a dash uses profile "default".
func ScanDirectory(dir string) ([]FileKey, error) {
	var out []FileKey
	add := func(path, label string) {
		ext := filepath.Ext(path)
		if !slices.Contains(Extensions, strings.ToLower(ext)) {
			return
		}
		base := strings.TrimSuffix(filepath.Base(path), ext)
		app, profile := base, DefaultProfile
		if i := strings.LastIndex(base, "-"); i > 0 && i < len(base)-1 {
			app, profile = base[:i], base[i+1:]
		}
		out = append(out, FileKey{Application: app, Profile: profile, Label: label, Path: path})
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan config dir %s: %w", dir, err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if !e.IsDir() {
			add(path, DefaultLabel)
			continue
		}
		nested, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("scan config dir %s: %w", path, err)
		}
		for _, n := range nested {
			if !n.IsDir() {
				add(filepath.Join(path, n.Name()), e.Name())
			}
		}
	}
	return out, nil
}

// ReadFile reads one seed file with viper and returns its flattened
// properties. Viper lowercases keys.
func ReadFile(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	props := make(map[string]any)
	for _, k := range v.AllKeys() {
		props[k] = v.Get(k)
	}
	return props, nil
}

// LoadDirectory publishes every seed file under dir into store, in
// directory order. It stops at the first unreadable file and returns the
// number published so far.
func LoadDirectory(ctx context.Context, store *Store, dir string) (int, error) {
	keys, err := ScanDirectory(dir)
	if err != nil {
		return 0, err
	}
	for i, fk := range keys {
		props, err := ReadFile(fk.Path)
		if err != nil {
			return i, err
		}
		if _, err := store.Publish(ctx, fk.Application, fk.Profile, fk.Label, props); err != nil {
			return i, fmt.Errorf("publish %s: %w", fk.Path, err)
		}
	}
	return len(keys), nil
}

// Seeder is a component that loads a directory into a store on Start.
type Seeder struct {
	store  *Store
	dir    string
	log    *logger.Logger
	loaded atomic.Int64
	done   atomic.Bool
}

var _ component.Component = (*Seeder)(nil)

// NewSeeder creates a seeder. An empty dir makes Start a no-op.
func NewSeeder(store *Store, dir string, log *logger.Logger) *Seeder {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Seeder{store: store, dir: dir, log: log.WithComponent("configstore-seed")}
}

func (s *Seeder) Name() string { return "configstore-seed" }

// Start loads the directory. A missing or unreadable file fails startup.
func (s *Seeder) Start(ctx context.Context) error {
	if s.dir == "" {
		s.done.Store(true)
		return nil
	}
	n, err := LoadDirectory(ctx, s.store, s.dir)
	s.loaded.Store(int64(n))
	if err != nil {
		return fmt.Errorf("seed config store: %w", err)
	}
	s.done.Store(true)
	s.log.Info("Config store seeded", logger.Fields("dir", s.dir, "files", n))
	return nil
}

func (s *Seeder) Stop(context.Context) error { return nil }

func (s *Seeder) Health(context.Context) component.Health {
	if !s.done.Load() {
		return component.Health{Name: s.Name(), Status: component.StatusUnhealthy, Message: "not seeded"}
	}
	return component.Health{
		Name:    s.Name(),
		Status:  component.StatusHealthy,
		Message: fmt.Sprintf("%d files", s.loaded.Load()),
	}
}
