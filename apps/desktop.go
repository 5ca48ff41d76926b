package apps

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

const desktopGroup = "[Desktop Entry]"

var fieldCode = regexp.MustCompile(`%\w`)

// ParseDesktopEntry reads the [Desktop Entry] group of a .desktop file.
// name is the desktop file id and doubles as the display name when the entry
// has none. Only the first value of each key counts; localized keys such as
// Name[de] are ignored.
func ParseDesktopEntry(r io.Reader, name string) (Application, error) {
	values := make(map[string]string)
	inGroup := false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			inGroup = line == desktopGroup
			continue
		}
		if !inGroup {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, seen := values[key]; seen {
			continue
		}
		values[key] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return Application{}, err
	}

	if t, ok := values["Type"]; ok && t != "Application" {
		return Application{}, ErrNotApplication
	}

	app := Application{
		Name:     name,
		FullName: values["Name"],
		Comment:  values["Comment"],
		Version:  values["Version"],
		Exec:     StripFieldCodes(values["Exec"]),
	}
	if app.Exec == "" {
		app.Exec = StripFieldCodes(values["TryExec"])
	}
	if app.Exec == "" {
		return Application{}, ErrNoExec
	}
	if app.FullName == "" {
		app.FullName = name
	}
	app.iconPath = values["Icon"]
	if app.iconPath == "" {
		app.iconPath = fallbackIcon
	}
	return app, nil
}

// StripFieldCodes removes %f, %U and the other Exec field codes.
func StripFieldCodes(exec string) string {
	return strings.Join(strings.Fields(fieldCode.ReplaceAllString(exec, "")), " ")
}
