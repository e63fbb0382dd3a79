// Package registry owns the account roster: which backend each named
// account uses, its model and reasoning settings, and its role in the
// coding/verification split. Accounts live in a YAML file that can be
// edited externally and hot-reloaded.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/chadhq/chad/pkg/models"
)

// DefaultPath returns the standard accounts file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".chad", "accounts.yaml")
}

type accountsFile struct {
	Accounts []models.Account `yaml:"accounts"`
}

// Registry is the YAML-backed account store. Safe for concurrent use;
// mutators persist immediately.
type Registry struct {
	path string

	mu       sync.RWMutex
	accounts []models.Account

	watcher *fsnotify.Watcher
}

// Open loads the accounts file at path, creating an empty roster when the
// file does not exist yet.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return r, nil
}

// Load re-reads the accounts file from disk.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}

	var file accountsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse accounts file: %w", err)
	}

	r.mu.Lock()
	r.accounts = file.Accounts
	r.mu.Unlock()
	return nil
}

// Save writes the current roster back to disk.
func (r *Registry) Save() error {
	r.mu.RLock()
	file := accountsFile{Accounts: append([]models.Account(nil), r.accounts...)}
	r.mu.RUnlock()

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("encode accounts file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("create accounts directory: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0644); err != nil {
		return fmt.Errorf("write accounts file: %w", err)
	}
	return nil
}

// List returns the roster in file order.
func (r *Registry) List() []models.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Account(nil), r.accounts...)
}

// Get looks up one account by name.
func (r *Registry) Get(name string) (models.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if a.Name == name {
			return a, true
		}
	}
	return models.Account{}, false
}

// Add appends a new account and persists. The name must be unused.
func (r *Registry) Add(a models.Account) error {
	if !a.Backend.Valid() {
		return fmt.Errorf("unknown backend kind %q", a.Backend)
	}

	r.mu.Lock()
	for _, existing := range r.accounts {
		if existing.Name == a.Name {
			r.mu.Unlock()
			return fmt.Errorf("account %q already exists", a.Name)
		}
	}
	r.accounts = append(r.accounts, a)
	r.mu.Unlock()

	return r.Save()
}

// Remove deletes an account by name and persists.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	found := false
	kept := r.accounts[:0]
	for _, a := range r.accounts {
		if a.Name == name {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	r.accounts = kept
	r.mu.Unlock()

	if !found {
		return fmt.Errorf("account %q not found", name)
	}
	return r.Save()
}

// SetModel updates an account's model and persists.
func (r *Registry) SetModel(name, model string) error {
	return r.update(name, func(a *models.Account) { a.Model = model })
}

// SetReasoning updates an account's reasoning effort and persists.
func (r *Registry) SetReasoning(name, effort string) error {
	return r.update(name, func(a *models.Account) { a.ReasoningEffort = effort })
}

// SetRole updates an account's role and persists.
func (r *Registry) SetRole(name string, role models.Role) error {
	return r.update(name, func(a *models.Account) { a.Role = role })
}

func (r *Registry) update(name string, fn func(*models.Account)) error {
	r.mu.Lock()
	found := false
	for i := range r.accounts {
		if r.accounts[i].Name == name {
			fn(&r.accounts[i])
			found = true
			break
		}
	}
	r.mu.Unlock()

	if !found {
		return fmt.Errorf("account %q not found", name)
	}
	return r.Save()
}

// Watch reloads the roster whenever the accounts file changes on disk,
// until stop is signalled. onReload may be nil.
func (r *Registry) Watch(stop <-chan struct{}, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors replace the file rather than write it
	// in place, which drops a file-level watch.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch accounts directory: %w", err)
	}
	r.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(r.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := r.Load(); err == nil && onReload != nil {
					onReload()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}
