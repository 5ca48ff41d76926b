package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartupPath(t *testing.T) {
	assert.Equal(t, "/tmp/xterm.10.cri_startup", StartupPath("/tmp", "xterm", 10))
	assert.Equal(t, "/tmp/gedit_--new-window.11.cri_startup", StartupPath("/tmp", "gedit --new-window", 11))
	assert.Equal(t, "/tmp/_etc_passwd.10.cri_startup", StartupPath("/tmp", "/etc/passwd", 10))
}

func TestStartupPathDistinctForCollidingNames(t *testing.T) {
	// "a b" and "a/b" sanitize to the same name.
	assert.NotEqual(t, StartupPath("/tmp", "a b", 10), StartupPath("/tmp", "a/b", 11))
}

func TestDisplayLauncherKeepsScriptsApart(t *testing.T) {
	dir := t.TempDir()
	l := &DisplayLauncher{DisplayCommand: "true", StartupDir: dir, Runner: &recordingRunner{}}

	_, err := l.StartDisplay("a b", Triple{Display: 10, RawPort: 3310, ProxyPort: 3410})
	require.NoError(t, err)
	_, err = l.StartDisplay("a/b", Triple{Display: 11, RawPort: 3311, ProxyPort: 3411})
	require.NoError(t, err)

	first, err := os.ReadFile(StartupPath(dir, "a b", 10))
	require.NoError(t, err)
	second, err := os.ReadFile(StartupPath(dir, "a/b", 11))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(first), "\na b\n"))
	assert.True(t, strings.HasSuffix(string(second), "\na/b\n"))
}

func TestStartupScript(t *testing.T) {
	script := StartupScript("i3 -c /etc/i3.conf", "xterm")
	assert.Equal(t, "#!/bin/sh\n"+
		"xrdb $HOME/.Xresources\n"+
		"xsetroot -solid grey\n"+
		"xsetroot -cursor_name left_ptr\n"+
		"i3 -c /etc/i3.conf &\n"+
		"xterm\n", script)

	assert.NotContains(t, StartupScript("", "xterm"), "&")
}

func TestDisplayArgs(t *testing.T) {
	args := DisplayArgs("xterm", Triple{Display: 12, RawPort: 3312, ProxyPort: 3412}, "/tmp/xterm.cri_startup")
	assert.Equal(t, []string{
		":12", "-name", "xterm",
		"-AcceptCutText=1", "-SendCutText=1", "-localhost=1", "-SecurityTypes=None",
		"-rfbport", "3312", "-ZlibLevel=0",
		"-xstartup", "/tmp/xterm.cri_startup",
	}, args)
}

func TestProxyArgs(t *testing.T) {
	assert.Equal(t, []string{"3412", "localhost:3312"}, ProxyArgs(Triple{RawPort: 3312, ProxyPort: 3412}))
}

type recordingRunner struct {
	code int
	args []string
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) (int, string, error) {
	r.args = append([]string{name}, args...)
	return r.code, "", nil
}

func TestDisplayLauncherKillDisplay(t *testing.T) {
	r := &recordingRunner{}
	l := &DisplayLauncher{DisplayCommand: "vncserver", Runner: r}
	require.NoError(t, l.KillDisplay(context.Background(), 13))
	assert.Equal(t, []string{"vncserver", "-kill", ":13"}, r.args)

	r.code = 2
	assert.Error(t, l.KillDisplay(context.Background(), 13))
}

func TestDisplayLauncherWritesStartupScript(t *testing.T) {
	dir := t.TempDir()
	l := &DisplayLauncher{
		// true ignores its arguments; only the script is checked here.
		DisplayCommand: "true",
		StartupDir:     dir,
		WindowManager:  "i3",
		Runner:         &recordingRunner{},
	}
	h, err := l.StartDisplay("xterm", Triple{Display: 10, RawPort: 3310, ProxyPort: 3410})
	require.NoError(t, err)
	require.NotNil(t, h)

	path := filepath.Join(dir, "xterm.10.cri_startup")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "i3 &\nxterm\n")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}
