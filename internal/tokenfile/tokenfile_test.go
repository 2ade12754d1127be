package tokenfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestLoad_FileNotFound(t *testing.T) {
	tok, meta, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Nil(t, tok)
	assert.Nil(t, meta)
	assert.NoError(t, err)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	expiry := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	original := &oauth2.Token{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}

	require.NoError(t, Save(path, original, map[string]string{"email": "user@example.com"}))

	tok, meta, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "access-123", tok.AccessToken)
	assert.Equal(t, "refresh-456", tok.RefreshToken)
	assert.True(t, tok.Expiry.Equal(expiry))
	assert.Equal(t, map[string]string{"email": "user@example.com"}, meta)
}

func TestLoad_MissingTokenField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"raw"}`), FilePerms))

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing token field")
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), FilePerms))

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")

	_, err = ReadMeta(path)
	require.Error(t, err)
}

func TestReadMeta(t *testing.T) {
	dir := t.TempDir()

	meta, err := ReadMeta(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Nil(t, meta)

	path := filepath.Join(dir, "token.json")
	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "a"}, map[string]string{"flow": "paste"}))

	meta, err = ReadMeta(path)
	require.NoError(t, err)
	assert.Equal(t, "paste", meta["flow"])
}

func TestSave_CreatesDirectoryWithPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "token.json")

	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "secret"}, nil))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DirPerms), dirInfo.Mode().Perm())
}

func TestSave_OverwriteLeavesNoTempFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens", "token.json")

	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "first"}, nil))
	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "second"}, nil))

	tok, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "second", tok.AccessToken)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "token.json", entries[0].Name())
}

func TestMergeMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "a"}, map[string]string{"flow": "browser", "email": "old"}))

	require.NoError(t, MergeMeta(path, map[string]string{"email": "new@example.com"}))

	tok, meta, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)
	assert.Equal(t, map[string]string{"flow": "browser", "email": "new@example.com"}, meta)
}

func TestMergeMeta_NoToken(t *testing.T) {
	err := MergeMeta(filepath.Join(t.TempDir(), "missing.json"), map[string]string{"k": "v"})
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestMergeMeta_NilExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "a"}, nil))

	require.NoError(t, MergeMeta(path, map[string]string{"email": "x@example.com"}))

	meta, err := ReadMeta(path)
	require.NoError(t, err)
	assert.Equal(t, "x@example.com", meta["email"])
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "a"}, nil))

	removed, err := Remove(path)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = Remove(path)
	require.NoError(t, err)
	assert.False(t, removed)
}
