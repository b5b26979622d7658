// Package configfile implements a YAML config file loader and saver
//
// The file holds named profiles, each a flat map of config keys:
//
//	profiles:
//	  default:
//	    base_url: https://dracoon.example.com
//	    client_id: abc
package configfile

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dco3go/dco3/fs"
	"github.com/dco3go/dco3/fs/config/configmap"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// DefaultProfile is used when no profile is named
const DefaultProfile = "default"

// ErrorConfigFileNotFound is returned when the config file doesn't exist
var ErrorConfigFileNotFound = errors.New("config file not found")

// DefaultPath returns the path of the config file in the user's home
func DefaultPath() (string, error) {
	return homedir.Expand(filepath.Join("~", ".config", "dco3", "dco3.yaml"))
}

type fileData struct {
	Profiles map[string]map[string]string `yaml:"profiles"`
}

// Storage holds the config file contents in memory
type Storage struct {
	mu   sync.Mutex // to protect the following variables
	path string
	data fileData
}

// New makes a Storage for the config file at path. A leading ~ is
// expanded to the home directory.
func New(path string) (*Storage, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrapf(err, "expand config path %q", path)
	}
	return &Storage{path: expanded}, nil
}

// Path returns the expanded config file path
func (s *Storage) Path() string {
	return s.path
}

// Load the config from the file
//
// A missing file returns ErrorConfigFileNotFound and leaves an empty
// config.
func (s *Storage) Load() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = fileData{}
	buf, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrorConfigFileNotFound
		}
		return errors.Wrap(err, "read config file")
	}
	if err = yaml.Unmarshal(buf, &s.data); err != nil {
		return errors.Wrapf(err, "parse config file %q", s.path)
	}
	return nil
}

// Serialize the config into a string
func (s *Storage) Serialize() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := yaml.Marshal(&s.data)
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize config")
	}
	return string(buf), nil
}

// Save the config to the file
//
// The new contents are written to a temporary file in the same
// directory and renamed over the old file.
func (s *Storage) Save() error {
	out, err := s.Serialize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, name := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	td, err := os.CreateTemp(dir, name)
	if err != nil {
		return errors.Wrap(err, "failed to create temp file for new config")
	}
	defer func() {
		_ = td.Close()
		if err := os.Remove(td.Name()); err != nil && !os.IsNotExist(err) {
			fs.Errorf(nil, "failed to remove temp config file: %v", err)
		}
	}()
	if _, err := bytes.NewBufferString(out).WriteTo(td); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	if err := td.Sync(); err != nil {
		return errors.Wrap(err, "failed to write config file to disk")
	}
	if err := td.Close(); err != nil {
		return errors.Wrap(err, "failed to close config file")
	}
	if err := os.Chmod(td.Name(), 0600); err != nil {
		fs.Errorf(nil, "Failed to set permissions on config file: %v", err)
	}
	if err := os.Rename(td.Name(), s.path); err != nil {
		return errors.Wrapf(err, "failed to move newly written config from %s to final location", td.Name())
	}
	return nil
}

// HasSection returns true if the profile exists in the config file
func (s *Storage) HasSection(section string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.Profiles[section]
	return ok
}

// GetSectionList returns the sorted profile names
func (s *Storage) GetSectionList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.data.Profiles))
	for name := range s.data.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetValue returns the key in section with a found flag
func (s *Storage) GetValue(section string, key string) (value string, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, found = s.data.Profiles[section][key]
	return value, found
}

// SetValue sets the value under key in section
func (s *Storage) SetValue(section string, key string, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Profiles == nil {
		s.data.Profiles = make(map[string]map[string]string)
	}
	if s.data.Profiles[section] == nil {
		s.data.Profiles[section] = make(map[string]string)
	}
	s.data.Profiles[section][key] = value
}

// Section returns a configmap.Mapper reading and writing section
func (s *Storage) Section(section string) configmap.Mapper {
	return sectionMapper{s: s, section: section}
}

type sectionMapper struct {
	s       *Storage
	section string
}

func (m sectionMapper) Get(key string) (string, bool) {
	return m.s.GetValue(m.section, key)
}

func (m sectionMapper) Set(key, value string) {
	m.s.SetValue(m.section, key, value)
}

// Load reads the profile from the config file at path, returning
// its values as a configmap.Simple. An empty path uses DefaultPath
// and an empty profile uses DefaultProfile. A missing default file
// gives an empty map, a missing explicit file is an error.
func Load(path, profile string) (configmap.Simple, error) {
	explicit := path != ""
	if !explicit {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	if profile == "" {
		profile = DefaultProfile
	}
	s, err := New(path)
	if err != nil {
		return nil, err
	}
	err = s.Load()
	if err == ErrorConfigFileNotFound && !explicit {
		fs.Debugf(nil, "No config file at %q", s.Path())
		return configmap.Simple{}, nil
	}
	if err != nil {
		return nil, err
	}
	if explicit && !s.HasSection(profile) && profile != DefaultProfile {
		return nil, errors.Errorf("profile %q not found in %q", profile, s.Path())
	}
	out := configmap.Simple{}
	s.mu.Lock()
	for k, v := range s.data.Profiles[profile] {
		out[k] = v
	}
	s.mu.Unlock()
	return out, nil
}
