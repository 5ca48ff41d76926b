package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppsCommandPrintsDirectory(t *testing.T) {
	appDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "xterm.desktop"),
		[]byte("[Desktop Entry]\nType=Application\nName=XTerm\nExec=xterm %U\nIcon=xterm\n"), 0644))

	cfgPath := filepath.Join(t.TempDir(), "serve-chroot.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"apps:\n  dirs:\n    - "+appDir+"\n  icon_dirs: []\nlog:\n  level: error\n"), 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"apps", "--config", cfgPath})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		configFile = ""
	})
	require.NoError(t, rootCmd.Execute())

	var list []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "xterm", list[0]["name"])
	assert.Equal(t, "XTerm", list[0]["full_name"])
	assert.Equal(t, "xterm", list[0]["exec"])
}

func TestSetupRejectsBadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "serve-chroot.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("display:\n  max_sessions: 0\n"), 0644))

	rootCmd.SetArgs([]string{"apps", "--config", cfgPath})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configFile = ""
	})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_sessions")
}
