package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_ValidMinimalConfig(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	p := writeConfig(t, `{
		"database_file": "`+filepath.Join(t.TempDir(), "cat.db")+`",
		"backup_sources": [{"parent_directory": "`+srcDir+`"}],
		"backup_destinations": ["`+filepath.Join(destDir, "out")+`"]
	}`)

	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, uint(1), cfg.MaxMebibytesForHash)
	require.True(t, cfg.SkipSourceHashCheckIfNewer)
	require.Equal(t, "INFO", cfg.LogLevel)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	p := writeConfig(t, `{"database_file": "x.db", "backup_sources": [], "backup_destinations": [], "bogus_field": true}`)
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoad_RejectsMissingSources(t *testing.T) {
	p := writeConfig(t, `{"database_file": "x.db", "backup_sources": [], "backup_destinations": ["/tmp"]}`)
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoad_RejectsNonexistentSourceDirectory(t *testing.T) {
	p := writeConfig(t, `{
		"database_file": "x.db",
		"backup_sources": [{"parent_directory": "/does/not/exist"}],
		"backup_destinations": ["`+t.TempDir()+`"]
	}`)
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoad_RejectsInvalidSchedule(t *testing.T) {
	srcDir := t.TempDir()
	p := writeConfig(t, `{
		"database_file": "x.db",
		"backup_sources": [{"parent_directory": "`+srcDir+`"}],
		"backup_destinations": ["`+t.TempDir()+`"],
		"schedule": "not a cron expression"
	}`)
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoad_AcceptsValidSchedule(t *testing.T) {
	srcDir := t.TempDir()
	p := writeConfig(t, `{
		"database_file": "x.db",
		"backup_sources": [{"parent_directory": "`+srcDir+`"}],
		"backup_destinations": ["`+t.TempDir()+`"],
		"schedule": "0 3 * * *"
	}`)
	_, err := Load(p)
	require.NoError(t, err)
}

func TestLoad_RejectsUnknownLogLevel(t *testing.T) {
	srcDir := t.TempDir()
	p := writeConfig(t, `{
		"database_file": "x.db",
		"backup_sources": [{"parent_directory": "`+srcDir+`"}],
		"backup_destinations": ["`+t.TempDir()+`"],
		"log_level": "LOUD"
	}`)
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
