package pkgmgr

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Stage is the part of a package operation a progress event belongs to.
type Stage string

const (
	StageAcquire Stage = "aquire"
	StageInstall Stage = "install"
	StageDelete  Stage = "delete"
)

type Phase string

const (
	PhaseStart  Phase = "start"
	PhaseStatus Phase = "status"
	PhaseFinish Phase = "finish"
)

// Progress is one status update reported by apt.
type Progress struct {
	Percent     float64 `json:"percent"`
	Item        string  `json:"item,omitempty"`
	Description string  `json:"description,omitempty"`
}

type Event struct {
	Stage Stage
	Phase Phase
	Progress
}

// Exec is the message tag the event is reported under, e.g. install_status.
func (e Event) Exec() string {
	return string(e.Stage) + "_" + string(e.Phase)
}

// Sink receives progress events. It is called from the goroutine running the
// package operation.
type Sink func(Event)

const tailLines = 20

// statusParser turns apt's Status-Fd output into events. Download lines
// (dlstatus) are reported as the acquire stage, package lines (pmstatus) as
// the install or delete stage.
type statusParser struct {
	op   Stage
	sink Sink

	acquiring bool
	acquired  bool
	tail      []string
}

// parseStatus reads r to the end, emitting events and remembering the last
// lines of ordinary output for error messages.
func parseStatus(r io.Reader, op Stage, sink Sink) []string {
	p := &statusParser{op: op, sink: sink}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		p.line(strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		// Keep reading so the writer never blocks on a full pty.
		p.remember("output not parsed: " + err.Error())
		_, _ = io.Copy(io.Discard, r)
	}
	p.finishAcquire()
	return p.tail
}

func (p *statusParser) line(line string) {
	kind, rest, ok := strings.Cut(line, ":")
	if !ok {
		p.remember(line)
		return
	}
	switch kind {
	case "dlstatus":
		if !p.acquiring && !p.acquired {
			p.acquiring = true
			p.emit(StageAcquire, PhaseStart, Progress{})
		}
		p.emit(StageAcquire, PhaseStatus, parseProgress(rest))
	case "pmstatus":
		p.finishAcquire()
		p.emit(p.op, PhaseStatus, parseProgress(rest))
	case "pmerror":
		prog := parseProgress(rest)
		p.remember(prog.Item + ": " + prog.Description)
	default:
		p.remember(line)
	}
}

func (p *statusParser) finishAcquire() {
	if p.acquiring {
		p.acquiring = false
		p.acquired = true
		p.emit(StageAcquire, PhaseFinish, Progress{Percent: 100})
	}
}

func (p *statusParser) emit(stage Stage, phase Phase, prog Progress) {
	if p.sink != nil {
		p.sink(Event{Stage: stage, Phase: phase, Progress: prog})
	}
}

func (p *statusParser) remember(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	p.tail = append(p.tail, line)
	if len(p.tail) > tailLines {
		p.tail = p.tail[len(p.tail)-tailLines:]
	}
}

// parseProgress parses "item:percent:description". The description may
// itself contain colons.
func parseProgress(s string) Progress {
	parts := strings.SplitN(s, ":", 3)
	var prog Progress
	if len(parts) > 0 {
		prog.Item = parts[0]
	}
	if len(parts) > 1 {
		prog.Percent, _ = strconv.ParseFloat(parts[1], 64)
	}
	if len(parts) > 2 {
		prog.Description = parts[2]
	}
	return prog
}
