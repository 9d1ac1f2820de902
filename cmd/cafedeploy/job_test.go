package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// =============================================================================
// ParseJob Tests
// =============================================================================

func TestParseJob_Vercel(t *testing.T) {
	t.Setenv("TEST_VERCEL_TOKEN", "tok-123")

	cfg, err := ParseJob([]byte(`
name: Cafe CRM
platform: Vercel
vercel:
  token: ${TEST_VERCEL_TOKEN}
  project_id: prj_1
environment:
  NEXT_PUBLIC_API_URL: https://api.cafe.example
build_command: pnpm build
auto_rollback: true
`))
	require.NoError(t, err)

	assert.Equal(t, "cafe-crm", cfg.ID)
	assert.Equal(t, "Cafe CRM", cfg.Name)
	assert.Equal(t, domain.PlatformVercel, cfg.Platform)
	assert.Equal(t, "tok-123", cfg.Vercel.Token)
	assert.Equal(t, "prj_1", cfg.Vercel.ProjectID)
	assert.Equal(t, "https://api.cafe.example", cfg.Environment["NEXT_PUBLIC_API_URL"])
	assert.Equal(t, "pnpm build", cfg.BuildCommand)
	assert.True(t, cfg.AutoRollback)
}

func TestParseJob_ExplicitID(t *testing.T) {
	cfg, err := ParseJob([]byte("id: crm-prod\nname: Cafe CRM\nplatform: manual\n"))
	require.NoError(t, err)
	assert.Equal(t, "crm-prod", cfg.ID)
}

func TestParseJob_UnknownKey(t *testing.T) {
	_, err := ParseJob([]byte("name: Cafe CRM\nplatform: manual\nbuild_cmd: npm run build\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestParseJob_UnsupportedPlatform(t *testing.T) {
	_, err := ParseJob([]byte("name: Cafe CRM\nplatform: heroku\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestParseJob_MissingName(t *testing.T) {
	_, err := ParseJob([]byte("platform: manual\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestParseJob_NetlifyAPIRequiresCredentials(t *testing.T) {
	_, err := ParseJob([]byte("name: Cafe CRM\nplatform: netlify\nnetlify:\n  mode: api\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

// =============================================================================
// LoadJob Tests
// =============================================================================

func TestLoadJob_RelativeWorkDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: Cafe CRM\nplatform: manual\nwork_dir: app\n"), 0644))

	cfg, err := LoadJob(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "app"), cfg.WorkDir)
}

func TestLoadJob_AbsoluteWorkDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: Cafe CRM\nplatform: manual\nwork_dir: /srv/crm\n"), 0644))

	cfg, err := LoadJob(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/crm", cfg.WorkDir)
}

func TestLoadJob_MissingFile(t *testing.T) {
	_, err := LoadJob(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// =============================================================================
// LoadJobDir Tests
// =============================================================================

func TestLoadJobDir(t *testing.T) {
	dir := t.TempDir()
	writeJob(t, dir, "crm.yaml", "name: Cafe CRM\nplatform: manual\n")
	writeJob(t, dir, "pos.yml", "name: Cafe POS\nplatform: netlify\n")
	writeJob(t, dir, "README.md", "not a job")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))

	set, err := LoadJobDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())

	cfg, ok := set.Lookup("cafe-pos")
	require.True(t, ok)
	assert.Equal(t, domain.PlatformNetlify, cfg.Platform)

	_, ok = set.Lookup("unknown")
	assert.False(t, ok)
	assert.Len(t, set.Configs(), 2)
}

func TestLoadJobDir_MissingDir(t *testing.T) {
	set, err := LoadJobDir(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
	assert.Empty(t, set.Configs())
}

func TestLoadJobDir_DuplicateID(t *testing.T) {
	dir := t.TempDir()
	writeJob(t, dir, "a.yaml", "id: crm\nname: Cafe CRM\nplatform: manual\n")
	writeJob(t, dir, "b.yaml", "id: crm\nname: Other CRM\nplatform: manual\n")

	_, err := LoadJobDir(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestLoadJobDir_InvalidJob(t *testing.T) {
	dir := t.TempDir()
	writeJob(t, dir, "bad.yaml", "name: Cafe CRM\nplatform: ftp\n")

	_, err := LoadJobDir(dir)
	assert.Error(t, err)
}

func TestJobSet_LookupReturnsCopy(t *testing.T) {
	dir := t.TempDir()
	writeJob(t, dir, "crm.yaml", "name: Cafe CRM\nplatform: manual\nenvironment:\n  KEY: value\n")

	set, err := LoadJobDir(dir)
	require.NoError(t, err)

	cfg, _ := set.Lookup("cafe-crm")
	cfg.Environment["KEY"] = "changed"

	again, _ := set.Lookup("cafe-crm")
	assert.Equal(t, "value", again.Environment["KEY"])
}

func writeJob(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}
