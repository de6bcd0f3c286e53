package settings

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

// Store persists Settings in a YAML file.
type Store struct {
	path   string
	mu     sync.Mutex
	logger logger.Logger
}

// NewStore creates a Store backed by path.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		logger: logger.GetGlobalLogger().WithComponent("settings").WithField("file", path),
	}
}

// Load reads the settings file. A missing file is created with the defaults;
// keys missing from an existing file are filled in from the defaults and the
// file is rewritten.
func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*Settings, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Warn("Settings file not found, creating it with defaults")
		defaults := Defaults()
		if err := s.save(defaults); err != nil {
			return nil, err
		}
		return defaults, nil
	}
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, s.path, err)
	}

	var present map[string]interface{}
	if err := yaml.Unmarshal(data, &present); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "settings_file", s.path, err).
			WithSuggestion("fix the YAML syntax or delete the file to start from the defaults")
	}
	loaded := Defaults()
	if err := yaml.Unmarshal(data, loaded); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "settings_file", s.path, err)
	}

	if added := missingKeys(present); len(added) > 0 {
		s.logger.WithField("added_keys", added).Info("New settings keys found, updating settings file")
		if err := s.save(loaded); err != nil {
			return nil, err
		}
	}
	return loaded, nil
}

// Save writes the settings file and returns what was written.
func (s *Store) Save(settings *Settings) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Update loads the settings, applies fn and saves the result.
func (s *Store) Update(fn func(*Settings)) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return nil, err
	}
	fn(current)
	if err := s.save(current); err != nil {
		return nil, err
	}
	return current, nil
}

func (s *Store) save(settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "marshal settings", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.FileError(errors.CodeFilePermission, dir, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.FileError(errors.CodeFilePermission, tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.FileError(errors.CodeFilePermission, s.path, err)
	}
	return nil
}

// missingKeys lists the default keys absent from a loaded document.
func missingKeys(present map[string]interface{}) []string {
	data, _ := yaml.Marshal(Defaults())
	var all map[string]interface{}
	_ = yaml.Unmarshal(data, &all)

	var missing []string
	for key := range all {
		if _, ok := present[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}
