package repo

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// ConfigFile is the repository-local settings file inside .hologit/.
const ConfigFile = "config.toml"

// Config is the content of .hologit/config.toml:
//
//	author = "Builder <ci@example.com>"
//
//	[remotes]
//	origin = "https://holo.example.com/site"
//	cache = "s3://builds/holo"
type Config struct {
	// Author is recorded on commits when no --author is given.
	Author string `toml:"author,omitempty"`
	// Remotes maps names to URLs: http(s) for the object protocol, s3://
	// for a build-cache bucket.
	Remotes map[string]string `toml:"remotes,omitempty"`
}

// ReadConfig loads the repository config. A missing file is an empty
// config.
func (r *Repo) ReadConfig() (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(filepath.Join(r.HoloDir, ConfigFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]string{}
	}
	return cfg, nil
}

// WriteConfig replaces the repository config.
func (r *Repo) WriteConfig(cfg *Config) error {
	var buf bytes.Buffer
	if cfg != nil {
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
	}
	if err := writeFileAtomic(filepath.Join(r.HoloDir, ConfigFile), buf.Bytes()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (r *Repo) updateConfig(fn func(*Config) error) error {
	cfg, err := r.ReadConfig()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return r.WriteConfig(cfg)
}

// SetRemote adds or replaces a named remote.
func (r *Repo) SetRemote(name, remoteURL string) error {
	name, remoteURL = strings.TrimSpace(name), strings.TrimSpace(remoteURL)
	switch {
	case name == "":
		return fmt.Errorf("set remote: name is required")
	case remoteURL == "":
		return fmt.Errorf("set remote %s: url is required", name)
	}
	return r.updateConfig(func(cfg *Config) error {
		cfg.Remotes[name] = remoteURL
		return nil
	})
}

// RemoveRemote forgets a named remote.
func (r *Repo) RemoveRemote(name string) error {
	name = strings.TrimSpace(name)
	return r.updateConfig(func(cfg *Config) error {
		if _, ok := cfg.Remotes[name]; !ok {
			return fmt.Errorf("remote %q is not configured", name)
		}
		delete(cfg.Remotes, name)
		return nil
	})
}

// RemoteURL looks up a configured remote.
func (r *Repo) RemoteURL(name string) (string, error) {
	cfg, err := r.ReadConfig()
	if err != nil {
		return "", err
	}
	if u := strings.TrimSpace(cfg.Remotes[strings.TrimSpace(name)]); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("remote %q is not configured", name)
}

// RemoteNames lists configured remotes, sorted.
func (r *Repo) RemoteNames() ([]string, error) {
	cfg, err := r.ReadConfig()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cfg.Remotes))
	for name := range cfg.Remotes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// writeFileAtomic writes data to a temporary file beside path and renames
// it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		os.Remove(tmp.Name())
	}
	return err
}
