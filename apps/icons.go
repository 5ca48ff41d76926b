package apps

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const fallbackIcon = "exec"

var iconExts = []string{".png", ".svg", ".xpm"}

// IconResolver finds icon files in freedesktop icon theme directories.
type IconResolver struct {
	Theme string
	Size  int
	Dirs  []string
}

// Lookup returns the path of the icon called name, falling back to the
// generic executable icon. It returns "" when neither exists.
func (r IconResolver) Lookup(name string) string {
	if p := r.find(name); p != "" {
		return p
	}
	return r.find(fallbackIcon)
}

func (r IconResolver) find(name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) {
		if isFile(name) {
			return name
		}
		return ""
	}

	size := strconv.Itoa(r.Size) + "x" + strconv.Itoa(r.Size)
	themes := []string{r.Theme}
	if r.Theme != "hicolor" {
		themes = append(themes, "hicolor")
	}

	for _, dir := range r.Dirs {
		for _, theme := range themes {
			if theme == "" {
				continue
			}
			for _, sub := range []string{size, "scalable", "48x48"} {
				for _, ext := range iconExts {
					p := filepath.Join(dir, theme, sub, "apps", name+ext)
					if isFile(p) {
						return p
					}
				}
			}
		}
		// pixmaps-style flat directory
		for _, ext := range iconExts {
			p := filepath.Join(dir, name+ext)
			if isFile(p) {
				return p
			}
		}
	}
	return ""
}

// IconType is the icon file extension without the dot.
func IconType(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}
