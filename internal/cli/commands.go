// Package cli implements the interactive console of the bridge: live session
// status, session history and a quit command.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/ladderbridge/internal/db"
	"github.com/energizer-project/ladderbridge/internal/events"
	"github.com/energizer-project/ladderbridge/internal/session"
	"github.com/energizer-project/ladderbridge/internal/util"
)

// StatusSource reports the live session.
type StatusSource interface {
	Status() session.Status
}

// HistorySource reads recorded sessions.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]db.SessionRecord, error)
	Get(ctx context.Context, id string) (db.SessionRecord, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	eventBus *events.EventBus
	status   StatusSource
	history  HistorySource

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading stdin and writing stdout. history may be
// nil when the session history is disabled.
func NewCLI(eventBus *events.EventBus, status StatusSource, history HistorySource) *CLI {
	return &CLI{
		eventBus: eventBus,
		status:   status,
		history:  history,
		in:       os.Stdin,
		out:      os.Stdout,
	}
}

// SetIO replaces the console's input and output.
func (c *CLI) SetIO(in io.Reader, out io.Writer) {
	c.in = in
	c.out = out
}

// Start runs the console until ctx is cancelled, input ends or the user
// quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nladderbridge console ready. Type 'help' for available commands.")

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
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Str("component", "cli").Msg("console input failed")
		}
	}()

	for {
		fmt.Fprint(c.out, "ladderbridge> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			quit, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}

// execute runs one command and reports whether the console should exit.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "history":
		return false, c.printHistory(ctx, args)
	case "show":
		return false, c.printSession(ctx, args)
	case "system":
		c.printSystem()
	case "quit", "exit", "q", "stop":
		fmt.Fprintln(c.out, "Shutting down ladderbridge...")
		c.eventBus.Emit(ctx, events.Event{
			Type:    events.EventShutdown,
			Source:  "cli",
			Payload: events.ShutdownPayload{Reason: "console"},
		})
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "  status          Show the current session")
	fmt.Fprintln(c.out, "  history [n]     List the last n sessions (default 10)")
	fmt.Fprintln(c.out, "  show <id>       Show one recorded session")
	fmt.Fprintln(c.out, "  system          Show host information and load")
	fmt.Fprintln(c.out, "  quit            Stop the session and exit")
	fmt.Fprintln(c.out, "  help            Show this help message")
	fmt.Fprintln(c.out)
}

// printStatus displays the live session.
func (c *CLI) printStatus() {
	st := c.status.Status()

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Field", "Value"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	rows := [][]string{
		{"Session", st.ID},
		{"State", st.State.String()},
		{"Mode", modeName(st.HostMode)},
		{"Listen", st.ListenAddr},
		{"Engine port", strconv.Itoa(st.EnginePort)},
		{"Engine PID", pidString(st.EnginePID)},
		{"Map", mapName(st)},
		{"Client", yesNo(st.ClientConnected)},
		{"Relay", st.Relay.State.String()},
		{"Forwarded", strconv.FormatUint(st.Relay.Forwarded, 10)},
	}
	if st.Relay.LastRequest != "" {
		rows = append(rows, []string{"Last request", st.Relay.LastRequest + " " + ago(st.Relay.LastAt)})
	}
	if st.GameResult != nil {
		game := "created"
		if !st.GameResult.Success {
			game = st.GameResult.Err().Error()
		}
		rows = append(rows, []string{"Game", game})
	}
	if st.EngineMemoryMB > 0 {
		rows = append(rows, []string{"Engine CPU/Mem", fmt.Sprintf("%.1f%% / %.0f MB", st.EngineCPU, st.EngineMemoryMB)})
	}
	if !st.StartedAt.IsZero() {
		rows = append(rows, []string{"Started", st.StartedAt.Format(time.RFC3339)})
	}
	if st.Error != "" {
		rows = append(rows, []string{"Error", st.Error})
	}
	tw.AppendBulk(rows)

	fmt.Fprintln(c.out)
	tw.Render()
	fmt.Fprintln(c.out)
}

func (c *CLI) printHistory(ctx context.Context, args []string) error {
	if c.history == nil {
		return errors.New("session history is disabled")
	}

	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	records, err := c.history.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(c.out, "No sessions recorded yet.")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"ID", "Started", "Map", "Mode", "State", "Forwarded", "Duration"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, r := range records {
		tw.Append([]string{
			r.ID,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Map,
			modeName(r.HostMode),
			r.State,
			strconv.FormatUint(r.Forwarded, 10),
			r.Duration().Round(time.Second).String(),
		})
	}

	fmt.Fprintln(c.out)
	tw.Render()
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) printSession(ctx context.Context, args []string) error {
	if c.history == nil {
		return errors.New("session history is disabled")
	}
	if len(args) < 1 {
		return errors.New("usage: show <id>")
	}

	r, err := c.history.Get(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  Session:      %s\n", r.ID)
	fmt.Fprintf(c.out, "  Type:         %s\n", r.Type)
	fmt.Fprintf(c.out, "  Map:          %s\n", r.Map)
	fmt.Fprintf(c.out, "  Mode:         %s\n", modeName(r.HostMode))
	fmt.Fprintf(c.out, "  Ports:        %d (engine %d)\n", r.GamePort, r.EnginePort)
	fmt.Fprintf(c.out, "  Engine PID:   %s\n", pidString(r.EnginePID))
	if r.GameCreated != nil {
		fmt.Fprintf(c.out, "  Game created: %v\n", *r.GameCreated)
	}
	if r.CreateError != "" {
		fmt.Fprintf(c.out, "  Create error: %s\n", r.CreateError)
	}
	fmt.Fprintf(c.out, "  State:        %s\n", r.State)
	fmt.Fprintf(c.out, "  Forwarded:    %d\n", r.Forwarded)
	fmt.Fprintf(c.out, "  Duration:     %s\n", r.Duration().Round(time.Second))
	if r.Error != "" {
		fmt.Fprintf(c.out, "  Error:        %s\n", r.Error)
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) printSystem() {
	info := util.GetSystemInfo()
	usage := util.GetHostUsage(".")

	fmt.Fprintf(c.out, "\n  Host:    %s (%s/%s)\n", info.Hostname, info.OS, info.Architecture)
	fmt.Fprintf(c.out, "  CPU:     %s, %d cores, %.1f%% used\n", info.CPUModel, info.CPUCores, usage.CPUPercent)
	fmt.Fprintf(c.out, "  Memory:  %d / %d MB (%.1f%%)\n", usage.MemoryUsedMB, info.TotalMemory, usage.MemoryPercent)
	fmt.Fprintf(c.out, "  Disk:    %d GB free\n\n", usage.DiskFreeGB)
}

func modeName(host bool) string {
	if host {
		return "host"
	}
	return "relay-only"
}

func mapName(st session.Status) string {
	if st.ResolvedMap != "" {
		return st.ResolvedMap
	}
	return st.Map
}

func pidString(pid int) string {
	if pid == 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}

func yesNo(b bool) string {
	if b {
		return "connected"
	}
	return "waiting"
}

func ago(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return "(" + time.Since(t).Round(time.Second).String() + " ago)"
}
