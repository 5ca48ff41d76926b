// Package pkgmgr searches, installs and removes system packages through apt.
package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"syscall"

	"github.com/creack/pty"
	"github.com/rs/zerolog"

	"serve-chroot/process"
)

var (
	ErrPackageManager = errors.New("package manager failed")
	ErrInvalidName    = errors.New("invalid package name")
)

// Package is one search result.
type Package struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Installed   bool   `json:"installed"`
	Version     string `json:"version,omitempty"`
}

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9+.\-]*(:[a-z0-9]+)?$`)

// Manager runs the apt tool chain. Searches go through Runner; installs and
// removals run apt-get under a pseudo-terminal so its status output arrives
// line by line.
type Manager struct {
	AptGet    string
	AptCache  string
	DpkgQuery string
	Runner    process.Runner

	log zerolog.Logger
}

type Option func(m *Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

func New(opts ...Option) *Manager {
	m := &Manager{
		AptGet:    "apt-get",
		AptCache:  "apt-cache",
		DpkgQuery: "dpkg-query",
		Runner:    process.ExecRunner{},
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Search streams every package whose name matches term to emit, sorted by
// name.
func (m *Manager) Search(ctx context.Context, term string, emit func(Package)) error {
	term = strings.TrimSpace(term)
	if term == "" {
		return fmt.Errorf("%w: empty search term", ErrPackageManager)
	}
	code, out, err := m.Runner.Run(ctx, m.AptCache, "search", "--names-only", "--", term)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPackageManager, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: %s exited with %d: %s", ErrPackageManager, m.AptCache, code, strings.TrimSpace(out))
	}
	results := parseSearch(out)
	if len(results) == 0 {
		return nil
	}

	installed, err := m.installed(ctx)
	if err != nil {
		// Search results are still useful without the installed flag.
		m.log.Warn().Err(err).Msg("couldn't list installed packages")
	}
	for _, p := range results {
		if v, ok := installed[p.Name]; ok {
			p.Installed = true
			p.Version = v
		}
		emit(p)
	}
	return nil
}

func parseSearch(out string) []Package {
	var pkgs []Package
	for _, line := range strings.Split(out, "\n") {
		name, desc, ok := strings.Cut(line, " - ")
		if !ok {
			continue
		}
		pkgs = append(pkgs, Package{Name: strings.TrimSpace(name), Description: strings.TrimSpace(desc)})
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs
}

func (m *Manager) installed(ctx context.Context) (map[string]string, error) {
	code, out, err := m.Runner.Run(ctx, m.DpkgQuery, "-W", "-f", `${Package} ${Version} ${db:Status-Status}\n`)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("%s exited with %d", m.DpkgQuery, code)
	}
	return parseInstalled(out), nil
}

func parseInstalled(out string) map[string]string {
	installed := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if len(f) < 3 || f[2] != "installed" {
			continue
		}
		installed[f[0]] = f[1]
	}
	return installed
}

// Install installs the space-separated packages in names.
func (m *Manager) Install(ctx context.Context, names string, sink Sink) error {
	pkgs, err := splitNames(names)
	if err != nil {
		return err
	}
	return m.aptGet(ctx, StageInstall, append([]string{"install"}, pkgs...), sink)
}

// Delete removes the space-separated packages in names, along with their
// configuration when purge is set.
func (m *Manager) Delete(ctx context.Context, names string, purge bool, sink Sink) error {
	pkgs, err := splitNames(names)
	if err != nil {
		return err
	}
	verb := "remove"
	if purge {
		verb = "purge"
	}
	return m.aptGet(ctx, StageDelete, append([]string{verb}, pkgs...), sink)
}

func splitNames(names string) ([]string, error) {
	pkgs := strings.Fields(names)
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("%w: no package given", ErrInvalidName)
	}
	for _, p := range pkgs {
		if !validName.MatchString(p) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidName, p)
		}
	}
	return pkgs, nil
}

func (m *Manager) aptGet(ctx context.Context, op Stage, args []string, sink Sink) error {
	full := append([]string{"-y", "-o", "APT::Status-Fd=1"}, args...)
	cmd := exec.CommandContext(ctx, m.AptGet, full...)
	cmd.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive")

	m.log.Info().Str("op", string(op)).Strs("args", args).Msg("running apt-get")
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("%w: starting %s: %v", ErrPackageManager, m.AptGet, err)
	}
	defer ptmx.Close()

	emit := func(e Event) {
		if sink != nil {
			sink(e)
		}
	}
	emit(Event{Stage: op, Phase: PhaseStart})

	// Reading the pty master fails with EIO once the child side is closed.
	tail := parseStatus(eioReader{ptmx}, op, sink)

	err = cmd.Wait()
	emit(Event{Stage: op, Phase: PhaseFinish, Progress: Progress{Percent: 100}})
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s exited with %d: %s", ErrPackageManager, m.AptGet, exitErr.ExitCode(), strings.Join(tail, "\n"))
		}
		return fmt.Errorf("%w: %v", ErrPackageManager, err)
	}
	m.log.Info().Str("op", string(op)).Strs("args", args).Msg("apt-get finished")
	return nil
}

type eioReader struct {
	r io.Reader
}

func (e eioReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && errors.Is(err, syscall.EIO) {
		return n, io.EOF
	}
	return n, err
}
