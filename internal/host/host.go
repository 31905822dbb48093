// Package host exposes the tail registry and the file helpers to a
// scripted caller over a line protocol: one shell-quoted command per input
// line, one JSON object per output line.
package host

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"sync"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"

	"github.com/ZehViking/simple-io-plugin/internal/tail"
)

var (
	// ErrUnknownCommand is reported for a command name the host doesn't know.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidArguments is reported when a command gets the wrong arguments.
	ErrInvalidArguments = errors.New("invalid or missing params")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reply answers one command.
type Reply struct {
	Cmd    string      `json:"cmd"`
	Status bool        `json:"status"`
	Data   interface{} `json:"data"`
}

// Notification carries a tail session event. Status is true for lines and
// for a Stopped terminal event, false for the failure kinds. A line that
// is not valid UTF-8 is sent base64 encoded with Encoding set to "base64",
// so its bytes survive the JSON encoding unchanged.
type Notification struct {
	Event    string `json:"event"`
	ID       string `json:"id"`
	Status   bool   `json:"status"`
	Data     string `json:"data"`
	Encoding string `json:"encoding,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// Host dispatches protocol commands. Output writes are serialized, so
// replies and session events never interleave within a line.
type Host struct {
	registry *tail.Registry
	files    *Files
	log      *zap.Logger

	mu  sync.Mutex
	out io.Writer
}

// New returns a host writing replies and events to out.
func New(reg *tail.Registry, files *Files, out io.Writer, log *zap.Logger) *Host {
	if log == nil {
		log = zap.NewNop()
	}
	return &Host{registry: reg, files: files, out: out, log: log}
}

// Serve executes commands read from r until EOF, a shutdown command or
// ctx is cancelled, then stops every session.
func (h *Host) Serve(ctx context.Context, r io.Reader) error {
	defer h.registry.StopAll()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		errc <- scan(ctx, r, lines)
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-errc; err != nil {
					return fmt.Errorf("reading commands: %w", err)
				}
				return ctx.Err()
			}
			if quit := h.Exec(line); quit {
				return nil
			}
		}
	}
}

// scan feeds lines from r until EOF or ctx is done. A blocked read on r
// is abandoned, not interrupted.
func scan(ctx context.Context, r io.Reader, lines chan<- string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}

// Exec runs one command line and writes its reply. It reports true for
// shutdown. Blank lines are ignored.
func (h *Host) Exec(line string) bool {
	args, err := shellwords.Parse(line)
	if err != nil {
		h.reply(Reply{Cmd: "", Status: false, Data: fmt.Sprintf("%v: %v", ErrInvalidArguments, err)})
		return false
	}
	if len(args) == 0 {
		return false
	}

	cmd, args := args[0], args[1:]
	h.log.Debug("command", zap.String("cmd", cmd), zap.Strings("args", args))

	switch cmd {
	case "listenOnFile":
		h.listenOnFile(cmd, args)
	case "stopFileListen":
		h.stopFileListen(cmd, args)
	case "getTextFile":
		h.getTextFile(cmd, args)
	case "fileExists":
		if !h.expectArgs(cmd, args, 1, "path") {
			return false
		}
		h.reply(Reply{Cmd: cmd, Status: true, Data: h.files.Exists(args[0])})
	case "isDirectory":
		if !h.expectArgs(cmd, args, 1, "path") {
			return false
		}
		h.reply(Reply{Cmd: cmd, Status: true, Data: h.files.IsDirectory(args[0])})
	case "writeLocalAppDataFile":
		h.writeSandboxed(cmd, args)
	case "shutdown":
		h.registry.StopAll()
		h.reply(Reply{Cmd: cmd, Status: true})
		return true
	default:
		h.reply(Reply{Cmd: cmd, Status: false, Data: fmt.Sprintf("%v: %s", ErrUnknownCommand, cmd)})
	}
	return false
}

func (h *Host) expectArgs(cmd string, args []string, n int, names string) bool {
	if len(args) == n {
		return true
	}
	h.reply(Reply{
		Cmd:    cmd,
		Status: false,
		Data:   fmt.Sprintf("%v - expecting %d params: %s", ErrInvalidArguments, n, names),
	})
	return false
}

func (h *Host) listenOnFile(cmd string, args []string) {
	if !h.expectArgs(cmd, args, 3, "id, filename, skipToEnd") {
		return
	}
	skipToEnd, err := strconv.ParseBool(args[2])
	if err != nil {
		h.reply(Reply{Cmd: cmd, Status: false, Data: fmt.Sprintf("%v: skipToEnd: %v", ErrInvalidArguments, err)})
		return
	}
	path, err := filepath.Abs(args[1])
	if err != nil {
		h.reply(Reply{Cmd: cmd, Status: false, Data: err.Error()})
		return
	}

	if err := h.registry.Start(args[0], path, skipToEnd, &observer{h: h}); err != nil {
		h.log.Warn("listen failed", zap.String("id", args[0]), zap.String("path", path), zap.Error(err))
		h.reply(Reply{Cmd: cmd, Status: false, Data: err.Error()})
		return
	}
	h.reply(Reply{Cmd: cmd, Status: true, Data: args[0]})
}

func (h *Host) stopFileListen(cmd string, args []string) {
	if !h.expectArgs(cmd, args, 1, "id") {
		return
	}
	if err := h.registry.Stop(args[0]); err != nil {
		h.reply(Reply{Cmd: cmd, Status: false, Data: err.Error()})
		return
	}
	h.reply(Reply{Cmd: cmd, Status: true, Data: args[0]})
}

func (h *Host) getTextFile(cmd string, args []string) {
	if !h.expectArgs(cmd, args, 1, "path") {
		return
	}
	text, err := h.files.ReadText(args[0])
	if err != nil {
		h.reply(Reply{Cmd: cmd, Status: false, Data: err.Error()})
		return
	}
	h.reply(Reply{Cmd: cmd, Status: true, Data: text})
}

func (h *Host) writeSandboxed(cmd string, args []string) {
	if !h.expectArgs(cmd, args, 2, "filename, content") {
		return
	}
	path, err := h.files.WriteSandboxed(args[0], args[1])
	if err != nil {
		h.reply(Reply{Cmd: cmd, Status: false, Data: err.Error()})
		return
	}
	h.reply(Reply{Cmd: cmd, Status: true, Data: path})
}

func (h *Host) reply(r Reply) {
	h.write(r)
}

func (h *Host) write(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("encoding output", zap.Error(err))
		return
	}
	data = append(data, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.out.Write(data); err != nil {
		h.log.Error("writing output", zap.Error(err))
	}
}

// observer forwards one session's events to the host output.
type observer struct {
	h *Host
}

func (o *observer) OnLine(id string, line []byte) {
	n := Notification{Event: "line", ID: id, Status: true}
	if utf8.Valid(line) {
		n.Data = string(line)
	} else {
		n.Data = base64.StdEncoding.EncodeToString(line)
		n.Encoding = "base64"
	}
	o.h.write(n)
}

func (o *observer) OnTerminal(id string, kind tail.TerminalKind, message string) {
	o.h.write(Notification{
		Event:  "terminal",
		ID:     id,
		Status: kind == tail.Stopped,
		Data:   message,
		Kind:   kind.String(),
	})
}
