package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"serve-chroot/process"
)

// Launcher starts and stops the two processes behind a session.
type Launcher interface {
	StartDisplay(name string, t Triple) (process.Handle, error)
	StartProxy(t Triple) (process.Handle, error)
	// KillDisplay asks the display server to shut down display n.
	KillDisplay(ctx context.Context, n int) error
}

// DisplayLauncher runs a VNC-style display server and a websockify-style proxy.
type DisplayLauncher struct {
	DisplayCommand string
	ProxyCommand   string
	StartupDir     string
	WindowManager  string
	Runner         process.Runner
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// StartupPath is where the startup script for the application name running on
// display is written. Display numbers are unique among live sessions, so two
// commands that sanitize to the same name never share a script.
func StartupPath(dir, name string, display int) string {
	return filepath.Join(dir, unsafeFileChars.ReplaceAllString(name, "_")+"."+strconv.Itoa(display)+".cri_startup")
}

// StartupScript is the xstartup script run inside a new display: it sets up a
// plain desktop, starts the window manager and then the application.
func StartupScript(windowManager, name string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("xrdb $HOME/.Xresources\n")
	b.WriteString("xsetroot -solid grey\n")
	b.WriteString("xsetroot -cursor_name left_ptr\n")
	if windowManager != "" {
		b.WriteString(windowManager + " &\n")
	}
	b.WriteString(name + "\n")
	return b.String()
}

// DisplayArgs builds the display-server command line: no authentication,
// clipboard in both directions, loopback only and no compression.
func DisplayArgs(name string, t Triple, startupPath string) []string {
	return []string{
		":" + strconv.Itoa(t.Display),
		"-name", name,
		"-AcceptCutText=1",
		"-SendCutText=1",
		"-localhost=1",
		"-SecurityTypes=None",
		"-rfbport", strconv.Itoa(t.RawPort),
		"-ZlibLevel=0",
		"-xstartup", startupPath,
	}
}

// ProxyArgs builds the proxy command line forwarding ProxyPort to the raw port.
func ProxyArgs(t Triple) []string {
	return []string{
		strconv.Itoa(t.ProxyPort),
		"localhost:" + strconv.Itoa(t.RawPort),
	}
}

func (l *DisplayLauncher) StartDisplay(name string, t Triple) (process.Handle, error) {
	path := StartupPath(l.StartupDir, name, t.Display)
	if err := os.WriteFile(path, []byte(StartupScript(l.WindowManager, name)), 0755); err != nil {
		return nil, fmt.Errorf("writing startup script: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0755); err != nil {
		return nil, fmt.Errorf("chmod startup script: %w", err)
	}
	h, err := process.Start(l.DisplayCommand, DisplayArgs(name, t, path)...)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (l *DisplayLauncher) StartProxy(t Triple) (process.Handle, error) {
	h, err := process.Start(l.ProxyCommand, ProxyArgs(t)...)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (l *DisplayLauncher) KillDisplay(ctx context.Context, n int) error {
	code, out, err := l.Runner.Run(ctx, l.DisplayCommand, "-kill", ":"+strconv.Itoa(n))
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%s -kill :%d exited with %d: %s", l.DisplayCommand, n, code, strings.TrimSpace(out))
	}
	return nil
}
