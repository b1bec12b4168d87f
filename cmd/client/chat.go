package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/omochice/vetchat/internal/client"
	"github.com/omochice/vetchat/internal/rooms"
	"github.com/omochice/vetchat/internal/session"
)

const chatHelp = `Commands:
  /rooms [filter]   list your rooms
  /switch <room>    open a room you belong to
  /create <room>    create a room and open it
  /join <room>      join a room and open it
  /leave [room]     leave the current room, or the named one
  /members [room]   list members of the current room, or the named one
  /quit             exit`

var chatCmd = &cobra.Command{
	Use:   "chat [room]",
	Short: "Open an interactive chat session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		backendClient, registry, err := newRegistry()
		if err != nil {
			return err
		}
		sc, err := cfg.Session(logger)
		if err != nil {
			return err
		}
		dialer, err := cfg.Dialer()
		if err != nil {
			return err
		}
		if _, err := registry.Load(ctx, cfg.Identity); err != nil {
			return err
		}

		manager := client.NewManager(dialer, cfg.ChannelURL,
			client.WithLogger(logger),
			client.WithBackoff(cfg.Backoff()),
			client.WithFormat(sc.Format),
		)
		defer manager.CloseAll()

		ctrl := session.New(sc, registry, backendClient, manager)
		app := &chatApp{
			registry: registry,
			ctrl:     ctrl,
			out:      &console{out: os.Stdout, identity: cfg.Identity},
			identity: cfg.Identity,
		}

		printed := make(chan struct{})
		go func() {
			defer close(printed)
			app.printEvents(ctrl.Events())
		}()
		defer func() {
			ctrl.Close()
			<-printed
		}()

		if len(args) == 1 {
			app.open(ctx, args[0])
		} else {
			app.out.header("Rooms for %s", cfg.Identity)
			app.out.list(roomNames(registry.Rooms()))
			app.out.status("Use /switch <room> to start chatting, /help for commands.")
		}

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if quit := app.handleLine(ctx, scanner.Text()); quit {
				break
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

type chatApp struct {
	registry *rooms.Registry
	ctrl     *session.Controller
	out      *console
	identity string
}

// parseCommand splits "/name arg" input. ok is false for plain messages.
func parseCommand(line string) (name, arg string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

// handleLine runs a slash command or sends the line to the current room.
// It returns true when the user asked to quit.
func (a *chatApp) handleLine(ctx context.Context, line string) bool {
	name, arg, ok := parseCommand(line)
	if !ok {
		if strings.TrimSpace(line) == "" {
			return false
		}
		if err := a.ctrl.SendText(ctx, line); err != nil {
			a.out.error(err)
		}
		return false
	}

	switch name {
	case "quit", "exit":
		return true
	case "help":
		a.out.println(chatHelp)
	case "rooms":
		a.out.header("Rooms for %s", a.identity)
		current := a.ctrl.Room()
		var names []string
		for _, r := range a.registry.Filter(arg) {
			if r.Name() == current {
				names = append(names, r.Name()+" *")
				continue
			}
			names = append(names, r.Name())
		}
		a.out.list(names)
	case "switch":
		a.open(ctx, arg)
	case "create":
		room, err := a.registry.Create(ctx, arg, a.identity)
		if err != nil {
			a.out.error(err)
			return false
		}
		a.open(ctx, room.Name())
	case "join":
		room, err := a.registry.Join(ctx, arg, a.identity)
		if err != nil {
			a.out.error(err)
			return false
		}
		a.open(ctx, room.Name())
	case "leave":
		var err error
		if arg == "" || arg == a.ctrl.Room() {
			err = a.ctrl.LeaveCurrentRoom(ctx)
		} else {
			err = a.registry.Leave(ctx, arg, a.identity)
		}
		if err != nil {
			a.out.error(err)
		}
	case "members":
		room := arg
		if room == "" {
			room = a.ctrl.Room()
		}
		if room == "" {
			a.out.error(session.ErrNoRoom)
			return false
		}
		members, err := a.registry.Members(ctx, room)
		if err != nil {
			a.out.error(err)
			return false
		}
		a.out.header("Members of %s", room)
		a.out.list(members)
	default:
		a.out.error(fmt.Errorf("unknown command /%s, try /help", name))
	}
	return false
}

func (a *chatApp) open(ctx context.Context, room string) {
	if room == "" {
		a.out.error(errors.New("room name is required"))
		return
	}
	if err := a.ctrl.SelectRoom(ctx, room); err != nil {
		if errors.Is(err, rooms.ErrNotMember) {
			a.out.error(fmt.Errorf("you are not a member of %s, use /join %s", room, room))
			return
		}
		a.out.error(err)
	}
}

// printEvents renders controller events until the channel closes. Messages
// appended while history is loading are printed as part of the merged
// history instead.
func (a *chatApp) printEvents(events <-chan session.Event) {
	loading := false
	for e := range events {
		switch e.Kind {
		case session.StateChanged:
			switch e.State {
			case session.LoadingHistory:
				loading = true
				a.out.status("opening %s...", e.Room)
			case session.NoRoomSelected:
				loading = false
				a.out.status("no room selected")
			}
		case session.HistoryLoaded:
			loading = false
			a.out.header("── %s ──", e.Room)
			for _, msg := range e.Messages {
				a.out.message(msg)
			}
		case session.MessageAppended:
			if !loading {
				a.out.message(e.Message)
			}
		case session.ConnectionChanged:
			switch e.Conn {
			case client.Open:
				a.out.status("connected to %s", e.Room)
			case client.Reconnecting:
				a.out.status("connection to %s lost, reconnecting...", e.Room)
			}
		case session.ErrorRaised:
			a.out.error(e.Err)
		}
	}
}
