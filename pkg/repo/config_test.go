package repo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestConfigRemoteRoundTrip(t *testing.T) {
	r := initRepo(t)

	if err := r.SetRemote("origin", "https://example.com/holo/site"); err != nil {
		t.Fatalf("SetRemote: %v", err)
	}
	if err := r.SetRemote("cache", "s3://builds/holo"); err != nil {
		t.Fatalf("SetRemote: %v", err)
	}

	url, err := r.RemoteURL("origin")
	if err != nil {
		t.Fatalf("RemoteURL: %v", err)
	}
	if url != "https://example.com/holo/site" {
		t.Fatalf("remote URL = %q", url)
	}
	names, err := r.RemoteNames()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"cache", "origin"}, names); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	if _, err := r.RemoteURL("missing"); err == nil {
		t.Fatal("RemoteURL(missing) should fail")
	}
	if err := r.SetRemote(" ", "x"); err == nil {
		t.Fatal("SetRemote with blank name should fail")
	}

	if err := r.RemoveRemote("cache"); err != nil {
		t.Fatalf("RemoveRemote: %v", err)
	}
	if err := r.RemoveRemote("cache"); err == nil {
		t.Fatal("removing an unknown remote should fail")
	}
	names, _ = r.RemoteNames()
	if diff := cmp.Diff([]string{"origin"}, names); diff != "" {
		t.Fatalf("after remove (-want +got):\n%s", diff)
	}
}

func TestReadConfigMissingReturnsEmptyConfig(t *testing.T) {
	r := initRepo(t)
	cfg, err := r.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if len(cfg.Remotes) != 0 || cfg.Author != "" {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
}

func TestConfigWritesTOML(t *testing.T) {
	r := initRepo(t)
	if err := r.WriteConfig(&Config{Author: "Builder <ci@example.com>", Remotes: map[string]string{"origin": "https://example.com/holo"}}); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(r.HoloDir, ConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`author = "Builder <ci@example.com>"`, "[remotes]", `origin = "https://example.com/holo"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("config.toml missing %q:\n%s", want, data)
		}
	}

	cfg, err := r.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if cfg.Author != "Builder <ci@example.com>" || cfg.Remotes["origin"] != "https://example.com/holo" {
		t.Fatalf("round trip = %+v", cfg)
	}
}

func TestReadConfigRejectsBadTOML(t *testing.T) {
	r := initRepo(t)
	if err := os.WriteFile(filepath.Join(r.HoloDir, ConfigFile), []byte("remotes = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadConfig(); err == nil {
		t.Fatal("ReadConfig accepted malformed TOML")
	}
}
