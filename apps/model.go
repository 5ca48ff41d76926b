package apps

import "errors"

// Application is one launchable desktop application.
type Application struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	IconType string `json:"icon_type"`
	Icon     string `json:"icon"` // base64 icon file contents
	Comment  string `json:"comment"`
	Version  string `json:"version"`
	Exec     string `json:"exec"`

	iconPath string
}

var (
	ErrNoExec         = errors.New("desktop entry has no Exec or TryExec")
	ErrNotApplication = errors.New("not a desktop application entry")
)
