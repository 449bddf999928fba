// Package cli implements the interactive operator console.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbylink/internal/config"
	"github.com/energizer-project/lobbylink/internal/db"
	"github.com/energizer-project/lobbylink/internal/events"
	"github.com/energizer-project/lobbylink/internal/lobby"
	"github.com/energizer-project/lobbylink/internal/server"
)

// errQuit ends the command loop.
var errQuit = errors.New("quit")

// Link is the part of the lobby link the console drives.
type Link interface {
	Start()
	Stop()
	Status() lobby.Status
}

// EventLog returns recorded link events.
type EventLog interface {
	Recent(limit int, eventType string) ([]db.JournalEntry, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	link     Link
	state    *server.Advertised
	journal  EventLog

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
// journal may be nil.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, link Link, state *server.Advertised,
	journal EventLog, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		link:     link,
		state:    state,
		journal:  journal,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until ctx is cancelled, input ends or the
// operator quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nlobbylink console ready. Type 'help' for available commands.")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "lobbylink> ")

		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
		if errors.Is(err, errQuit) {
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

// execute processes a single command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "events":
		return c.cmdEvents(args)
	case "players":
		return c.cmdPlayers(args)
	case "name":
		return c.cmdName(ctx, args)
	case "start":
		c.link.Start()
		c.state.Publish()
		fmt.Fprintln(c.out, "Link started")
	case "stop":
		c.link.Stop()
		fmt.Fprintln(c.out, "Link stopping")
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down lobbylink...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return errQuit
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status          Show link state and the advertised server
  events [n]      Show the last n journaled link events (default 20)
  players <n>     Set the advertised player count
  name <text>     Rename the server and save it to the config
  start           Start (or re-arm) the lobby link
  stop            Stop the link and deregister the server
  quit            Shut lobbylink down
  help            Show this help message`)
}

func (c *CLI) printStatus() {
	st := c.link.Status()
	snap := c.state.Snapshot()

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Field", "Value"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	rows := [][]string{
		{"Remote", st.Remote},
		{"Stage", st.Stage.String()},
		{"Active", strconv.FormatBool(st.Active)},
		{"Running", strconv.FormatBool(st.Running)},
		{"Update pending", strconv.FormatBool(st.UpdatePending)},
		{"Clock offset", fmt.Sprintf("%dms", st.ClockOffsetMs)},
		{"Server", snap.Name},
		{"Players", strconv.Itoa(snap.PlayerCount)},
		{"Local", snap.LocalAddr.String()},
		{"External", snap.ExternalAddr.String()},
		{"Connects", strconv.FormatUint(st.Counters.ConnectAttempts, 10)},
		{"Drops", strconv.FormatUint(st.Counters.Drops, 10)},
		{"Adverts", strconv.FormatUint(st.Counters.Advertisements, 10)},
	}
	if st.Halted {
		rows = append(rows, []string{"Halted", st.HaltReason})
	}
	if !st.NextConnectAt.IsZero() && !st.Active {
		rows = append(rows, []string{"Next connect", st.NextConnectAt.Format(time.RFC3339)})
	}
	tw.AppendBulk(rows)
	tw.Render()
}

func (c *CLI) cmdEvents(args []string) error {
	if c.journal == nil {
		return fmt.Errorf("event journal is disabled")
	}

	n := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		n = v
	}

	entries, err := c.journal.Recent(n, "")
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No events recorded")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Time", "Event", "Details"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, e := range entries {
		tw.Append([]string{
			e.At.Format("2006-01-02 15:04:05"),
			e.Type,
			string(e.Payload),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdPlayers(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: players <count>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 || n > 32767 {
		return fmt.Errorf("invalid count: %s", args[0])
	}

	if c.state.SetPlayerCount(n) {
		fmt.Fprintf(c.out, "Player count set to %d\n", n)
	} else {
		fmt.Fprintln(c.out, "Player count unchanged")
	}
	return nil
}

func (c *CLI) cmdName(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: name <text>")
	}
	name := strings.Join(args, " ")

	if err := c.cfg.UpdateServerField("name", name); err != nil {
		return err
	}
	if err := c.cfg.Save(); err != nil {
		log.Warn().Err(err).Msg("CLI: failed to save config")
	}

	c.state.SetName(name)
	c.eventBus.Emit(ctx, events.Event{
		Type:   events.EventConfigChanged,
		Source: "cli",
		Payload: events.ConfigChangedPayload{
			Section: "server",
			Key:     "name",
			Value:   name,
		},
	})

	fmt.Fprintf(c.out, "Server renamed to %q\n", name)
	return nil
}
