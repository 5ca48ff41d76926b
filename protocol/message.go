package protocol

import (
	"serve-chroot/apps"
	"serve-chroot/pkgmgr"
)

// Message is one outbound frame. Only the fields relevant to Exec are set.
type Message struct {
	Exec    string            `json:"exec"`
	Status  *bool             `json:"status,omitempty"`
	Name    string            `json:"name,omitempty"`
	UUID    string            `json:"uuid,omitempty"`
	Port    int               `json:"port,omitempty"`
	Message string            `json:"message,omitempty"`
	App     *apps.Application `json:"app,omitempty"`
	Package *pkgmgr.Package   `json:"package,omitempty"`

	*pkgmgr.Progress
}

func boolPtr(b bool) *bool { return &b }

// Connected is sent once right after a client connects.
func Connected() Message { return Message{Exec: "status", Status: boolPtr(true)} }

// MasterOffer asks the client whether it wants to become master.
func MasterOffer() Message { return Message{Exec: "master"} }

func SetMasterReply(status bool) Message {
	return Message{Exec: "set_master", Status: boolPtr(status)}
}

func GetMasterReply(status bool) Message {
	return Message{Exec: "get_master", Status: boolPtr(status)}
}

// Created reports a registered session and the proxy port to connect to.
func Created(name, uuid string, port int) Message {
	return Message{Exec: "run", Name: name, UUID: uuid, Port: port}
}

// Loaded reports the outcome of starting a session.
func Loaded(name, uuid string, ok bool) Message {
	return Message{Exec: "load", Name: name, UUID: uuid, Status: boolPtr(ok)}
}

func Killed(ok bool) Message { return Message{Exec: "kill", Status: boolPtr(ok)} }

func AppEntry(app apps.Application) Message { return Message{Exec: "list", App: &app} }

func ListDone() Message { return Message{Exec: "list_done"} }

func PackageEntry(p pkgmgr.Package) Message { return Message{Exec: "search", Package: &p} }

func SearchDone() Message { return Message{Exec: "search_done"} }

// ProgressEvent turns a package manager event into its aquire_*, install_* or
// delete_* message.
func ProgressEvent(e pkgmgr.Event) Message {
	p := e.Progress
	return Message{Exec: e.Exec(), Progress: &p}
}

func Error(err error) Message { return Message{Exec: "error", Message: err.Error()} }
