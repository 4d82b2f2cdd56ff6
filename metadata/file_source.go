package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/persistence"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const reloadDebounce = 250 * time.Millisecond

type definitionsFile struct {
	Workflows []*model.Workflow `yaml:"workflows"`
}

// LoadFile parses a YAML definitions file. It does not validate.
func LoadFile(path string) ([]*model.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return file.Workflows, nil
}

// ValidateFile loads path and validates every workflow in it, collecting all
// failures.
func ValidateFile(service MetadataService, path string) ([]*model.Workflow, error) {
	workflows, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	var errs []error
	seen := make(map[string]bool)
	for i, wf := range workflows {
		Normalize(wf)
		if seen[wf.Id] {
			errs = append(errs, fmt.Errorf("workflow %d: duplicate id %q", i, wf.Id))
			continue
		}
		seen[wf.Id] = true
		if err := service.ValidateWorkflow(wf); err != nil {
			errs = append(errs, fmt.Errorf("workflow %d: %w", i, err))
		}
	}
	return workflows, errors.Join(errs...)
}

// FileSource keeps the workflow store in sync with a YAML definitions file.
// Workflows it loaded earlier and that disappear from the file are deleted.
type FileSource struct {
	path    string
	service MetadataService
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	loaded  map[string]bool
	timer   *time.Timer
	wg      sync.WaitGroup
}

func NewFileSource(path string, service MetadataService) *FileSource {
	return &FileSource{
		path:    path,
		service: service,
		loaded:  make(map[string]bool),
	}
}

// Load applies the file once. An invalid file leaves the store untouched.
func (f *FileSource) Load(ctx context.Context) error {
	workflows, err := ValidateFile(f.service, f.path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	current := make(map[string]bool, len(workflows))
	for _, wf := range workflows {
		if err := f.service.SaveWorkflow(ctx, wf); err != nil {
			return err
		}
		current[wf.Id] = true
	}
	for id := range f.loaded {
		if current[id] {
			continue
		}
		if err := f.service.DeleteWorkflow(ctx, id); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return err
		}
		logger.Info("workflow removed from definitions file", zap.String("workflow", id))
	}
	f.loaded = current
	logger.Info("definitions loaded", zap.String("path", f.path), zap.Int("workflows", len(workflows)))
	return nil
}

// Watch reloads the file whenever it changes until Stop is called. The parent
// directory is watched since editors often replace files instead of writing
// them in place.
func (f *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return err
	}
	f.watcher = watcher
	target := filepath.Clean(f.path)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					f.scheduleReload(ctx)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("definitions watcher error", zap.String("path", f.path), zap.Error(err))
			}
		}
	}()
	return nil
}

func (f *FileSource) scheduleReload(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(reloadDebounce, func() {
		if err := f.Load(ctx); err != nil {
			logger.Error("error while reloading definitions", zap.String("path", f.path), zap.Error(err))
		}
	})
}

func (f *FileSource) Stop() error {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.mu.Unlock()
	if f.watcher == nil {
		return nil
	}
	err := f.watcher.Close()
	f.wg.Wait()
	return err
}
