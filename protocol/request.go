// Package protocol defines the JSON messages exchanged with clients over the
// control WebSocket. Every message carries an "exec" tag naming the operation.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedMessage = errors.New("malformed message")

// Request is one decoded inbound message. The set of implementations is
// closed: SetMaster, GetMaster, Run, Kill, List, Search, Install, Delete.
type Request interface {
	Exec() string
	request()
}

type SetMaster struct{ Status bool }
type GetMaster struct{}
type Run struct{ Name string }
type Kill struct{ UUID string }
type List struct{}
type Search struct{ Term string }
type Install struct{ Name string }
type Delete struct {
	Name  string
	Purge bool
}

func (SetMaster) Exec() string { return "set_master" }
func (GetMaster) Exec() string { return "get_master" }
func (Run) Exec() string       { return "run" }
func (Kill) Exec() string      { return "kill" }
func (List) Exec() string      { return "list" }
func (Search) Exec() string    { return "search" }
func (Install) Exec() string   { return "install" }
func (Delete) Exec() string    { return "delete" }

func (SetMaster) request() {}
func (GetMaster) request() {}
func (Run) request()       {}
func (Kill) request()      {}
func (List) request()      {}
func (Search) request()    {}
func (Install) request()   {}
func (Delete) request()    {}

// inbound holds every field any request may carry. Pointers tell a missing
// field apart from a zero value.
type inbound struct {
	Exec    *string `json:"exec"`
	Status  *bool   `json:"status"`
	Name    *string `json:"name"`
	UUID    *string `json:"uuid"`
	Search  *string `json:"search"`
	Install *string `json:"install"`
	Delete  *string `json:"delete"`
	Purge   *bool   `json:"purge"`
}

// Decode parses one inbound frame. Bad JSON, a missing or unknown tag and
// missing required fields all yield an error wrapping ErrMalformedMessage.
func Decode(data []byte) (Request, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if in.Exec == nil {
		return nil, fmt.Errorf("%w: missing exec", ErrMalformedMessage)
	}

	switch *in.Exec {
	case "set_master":
		if in.Status == nil {
			return nil, missing("set_master", "status")
		}
		return SetMaster{Status: *in.Status}, nil
	case "get_master":
		return GetMaster{}, nil
	case "run":
		if in.Name == nil || *in.Name == "" {
			return nil, missing("run", "name")
		}
		return Run{Name: *in.Name}, nil
	case "kill":
		if in.UUID == nil || *in.UUID == "" {
			return nil, missing("kill", "uuid")
		}
		return Kill{UUID: *in.UUID}, nil
	case "list":
		return List{}, nil
	case "search":
		if in.Search == nil {
			return nil, missing("search", "search")
		}
		return Search{Term: *in.Search}, nil
	case "install":
		if in.Install == nil || *in.Install == "" {
			return nil, missing("install", "install")
		}
		return Install{Name: *in.Install}, nil
	case "delete":
		if in.Delete == nil || *in.Delete == "" {
			return nil, missing("delete", "delete")
		}
		// purge is optional and defaults to a plain remove.
		purge := in.Purge != nil && *in.Purge
		return Delete{Name: *in.Delete, Purge: purge}, nil
	default:
		return nil, fmt.Errorf("%w: unknown exec %q", ErrMalformedMessage, *in.Exec)
	}
}

func missing(exec, field string) error {
	return fmt.Errorf("%w: %s requires %q", ErrMalformedMessage, exec, field)
}
