package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Mmx233/QTalk/call"
	"github.com/Mmx233/QTalk/client"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errInputClosed = errors.New("console input closed")

// command is one parsed console line.
type command struct {
	name string // say, call, hangup, join, file, who, help
	to   string
	text string
	mode call.Mode
	arg  string
}

const usage = `commands:
  text              message everyone in the room
  @user text        private message
  /call user        voice call
  /video user       video call
  /hangup           end the call
  /join room [pw]   join or create a room
  /file path [user] send a file to the room or to one user
  /who              show users, rooms and the current call`

// parseLine turns a console line into a command. It returns false for blank
// lines and malformed commands.
func parseLine(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, false
	}

	if strings.HasPrefix(line, "@") {
		to, text, ok := strings.Cut(line[1:], " ")
		text = strings.TrimSpace(text)
		if !ok || to == "" || text == "" {
			return command{}, false
		}
		return command{name: "say", to: to, text: text}, true
	}
	if !strings.HasPrefix(line, "/") {
		return command{name: "say", text: line}, true
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return command{}, false
	}
	switch fields[0] {
	case "call", "video":
		if len(fields) != 2 {
			return command{}, false
		}
		mode := call.ModeVoice
		if fields[0] == "video" {
			mode = call.ModeVideo
		}
		return command{name: "call", to: fields[1], mode: mode}, true
	case "hangup", "who", "help":
		return command{name: fields[0]}, true
	case "join":
		if len(fields) < 2 || len(fields) > 3 {
			return command{}, false
		}
		c := command{name: "join", arg: fields[1]}
		if len(fields) == 3 {
			c.text = fields[2]
		}
		return c, true
	case "file":
		if len(fields) < 2 || len(fields) > 3 {
			return command{}, false
		}
		c := command{name: "file", arg: fields[1]}
		if len(fields) == 3 {
			c.to = fields[2]
		}
		return c, true
	}
	return command{}, false
}

// console prints client events as JSON lines and executes typed commands.
// Only the goroutine running session touches it.
type console struct {
	out         io.Writer
	enc         *jsoniter.Encoder
	downloadDir string
	view        client.View
	logger      zerolog.Logger
}

func newConsole(out io.Writer, downloadDir string, logger zerolog.Logger) *console {
	return &console{
		out:         out,
		enc:         json.NewEncoder(out),
		downloadDir: downloadDir,
		logger:      logger,
	}
}

type shownEvent struct {
	client.Event
	SavedTo string `json:"saved_to,omitempty"`
}

func (c *console) show(e client.Event) {
	c.view.Apply(e)

	shown := shownEvent{Event: e}
	if e.Kind == client.EventFile {
		path, err := c.save(e.Filename, e.Content)
		if err != nil {
			c.logger.Error().Err(err).Str("file", e.Filename).Msg("could not save file")
		} else {
			shown.SavedTo = path
		}
	}
	if err := c.enc.Encode(shown); err != nil {
		c.logger.Debug().Err(err).Msg("write event")
	}
}

// save writes a received file under the download directory. Only the base
// name is used so a peer cannot pick the destination.
func (c *console) save(name string, content []byte) (string, error) {
	if err := os.MkdirAll(c.downloadDir, 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." {
		base = "unnamed"
	}
	path := filepath.Join(c.downloadDir, "received_"+base)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// session is what the console can do with a connection.
type session interface {
	SendMessage(to, text string) bool
	JoinRoom(room, password string) bool
	SendFile(filename string, content []byte, to string) error
	StartCall(partner string, mode call.Mode) (*call.Session, error)
	EndCall() bool
}

func (c *console) execute(s session, line string) {
	cmd, ok := parseLine(line)
	if !ok {
		if strings.TrimSpace(line) != "" {
			fmt.Fprintln(c.out, usage)
		}
		return
	}

	switch cmd.name {
	case "say":
		if !s.SendMessage(cmd.to, cmd.text) {
			c.logger.Warn().Msg("message not sent, connection is down")
		}
	case "call":
		if _, err := s.StartCall(cmd.to, cmd.mode); err != nil {
			c.logger.Warn().Err(err).Str("partner", cmd.to).Msg("cannot start call")
		}
	case "hangup":
		if !s.EndCall() {
			c.logger.Info().Msg("no call to end")
		}
	case "join":
		if !s.JoinRoom(cmd.arg, cmd.text) {
			c.logger.Warn().Msg("join not sent, connection is down")
		}
	case "file":
		content, err := os.ReadFile(cmd.arg)
		if err != nil {
			c.logger.Warn().Err(err).Msg("cannot read file")
			return
		}
		if err := s.SendFile(cmd.arg, content, cmd.to); err != nil {
			c.logger.Warn().Err(err).Msg("file not sent")
		}
	case "who":
		_ = c.enc.Encode(map[string]any{
			"kind":   "who",
			"users":  c.view.Users,
			"rooms":  c.view.Rooms,
			"room":   c.view.Room,
			"call":   c.view.Call,
			"online": c.view.Online,
		})
	case "help":
		fmt.Fprintln(c.out, usage)
	}
}

// attach shows events from cl and feeds it console lines until the
// connection ends. It returns Run's result, or errInputClosed when the
// console input ran out.
func (c *console) attach(ctx context.Context, cl *client.Client, lines <-chan string) error {
	runErr := make(chan error, 1)
	go func() { runErr <- cl.Run(ctx) }()

	events := cl.Events()
	inputClosed := false
	for {
		select {
		case e, ok := <-events:
			if !ok {
				err := <-runErr
				if inputClosed {
					return errInputClosed
				}
				return err
			}
			c.show(e)
		case line, ok := <-lines:
			if !ok {
				c.logger.Info().Msg("input closed, disconnecting")
				lines = nil
				inputClosed = true
				_ = cl.Close()
				continue
			}
			c.execute(cl, line)
		}
	}
}

// sleepCtx waits for d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
