package stoplist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalanDefaults(t *testing.T) {
	m := Catalan()
	assert.True(t, m.IsStop("de"))
	assert.True(t, m.IsStop("L’"))
	assert.True(t, m.IsStop("Per"))
	assert.False(t, m.IsStop("agotar"))
}

func TestAddRemove(t *testing.T) {
	m := NewManager(nil)
	m.Add("Via")
	assert.True(t, m.IsStop("via"))
	m.Remove("VIA")
	assert.False(t, m.IsStop("via"))
	assert.Empty(t, m.All())
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.IsStop("de"))
}

func TestLoadYAMLMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stoplist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("terms: [senyor, senyora]\nremove: [cap]\n"), 0o644))

	m, err := LoadYAML(path)
	require.NoError(t, err)
	assert.True(t, m.IsStop("senyora"))
	assert.True(t, m.IsStop("amb"))
	assert.False(t, m.IsStop("cap"))
}
