// Package list implements the beaconwatch list CLI, which prints the
// beacons a running node currently sees.
package list

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"beaconwatch/internal/distance"
	"beaconwatch/internal/history"
	"beaconwatch/internal/rpc"
	"beaconwatch/pkg/config"
)

const unknownName = "unknown beacon"

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// Options selects what list prints.
type Options struct {
	History    bool
	ActiveOnly bool
}

// ParseArgs reads list flags from the remaining command line.
func ParseArgs(args []string) (Options, error) {
	var opts Options
	for _, arg := range args {
		switch arg {
		case "--history":
			opts.History = true
		case "--active":
			opts.History = true
			opts.ActiveOnly = true
		default:
			return opts, fmt.Errorf("unknown list option: %s", arg)
		}
	}
	return opts, nil
}

// Run queries the node over its socket and prints a table.
func Run(configPath string, args []string) error {
	opts, err := ParseArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client, err := rpc.NewClient(cfg.Node.RPCSocket)
	if err != nil {
		return fmt.Errorf("connecting to node: %w\nIs 'beaconwatch scan' running?", err)
	}
	defer client.Close()

	width := terminalWidth()

	if opts.History {
		records, err := client.ListHistory(opts.ActiveOnly)
		if err != nil {
			return fmt.Errorf("fetching history: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No beacons archived yet.")
			return nil
		}
		fmt.Printf("\n  Archived Beacons (%d)\n\n", len(records))
		writeHistoryTable(os.Stdout, records, width)
		return nil
	}

	reply, err := client.ListBeacons()
	if err != nil {
		return fmt.Errorf("fetching beacons: %w", err)
	}
	if reply.SessionID == "" {
		fmt.Println("Node has not completed a ranging cycle yet.")
		return nil
	}
	if len(reply.Beacons) == 0 {
		fmt.Println("No beacons in range.")
		return nil
	}

	fmt.Printf("\n  Beacons in Range (%d, cycle %d at %s)\n\n",
		len(reply.Beacons), reply.Cycle, reply.Taken.Local().Format("15:04:05"))
	writeBeaconTable(os.Stdout, reply.Beacons, width)
	return nil
}

// terminalWidth returns the stdout width, or 0 when it is not a terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return w
}

// identityWidth sizes the identity column from the terminal width. The
// other columns take 86 cells.
func identityWidth(width int) int {
	const fixed, narrowest, widest = 86, 12, 60
	if width == 0 {
		return widest
	}
	return min(max(width-fixed, narrowest), widest)
}

var (
	beaconColumns  = []string{"#", "Name", "Address", "Identity", "RSSI", "Distance", "Last Seen"}
	historyColumns = []string{"#", "Name", "Identity", "Distance", "Last Seen", "Cycles", "Active"}
)

func writeBeaconTable(w io.Writer, beacons []rpc.Beacon, width int) {
	widths := []int{4, 20, 18, identityWidth(width), 6, 10, 9}
	writeHeader(w, beaconColumns, widths)

	for i, b := range beacons {
		fmt.Fprintln(w, formatRow(widths,
			fmt.Sprint(i+1),
			displayName(b.Name),
			b.Address,
			b.Identity,
			fmt.Sprint(b.RSSI),
			distance.Format(b.Distance),
			b.LastSeen.Local().Format("15:04:05"),
		))
	}
}

func writeHistoryTable(w io.Writer, records []history.Record, width int) {
	widths := []int{4, 20, identityWidth(width), 10, 19, 7, 6}
	writeHeader(w, historyColumns, widths)

	for i, r := range records {
		d := distance.Unknown
		if r.LastDistance != nil {
			d = *r.LastDistance
		}
		active := "✗"
		if r.Active {
			active = "✓"
		}
		fmt.Fprintln(w, formatRow(widths,
			fmt.Sprint(i+1),
			displayName(r.Name),
			strings.Join(r.Identifiers, " "),
			distance.Format(d),
			r.LastSeen.Local().Format(time.DateTime),
			fmt.Sprint(r.Cycles),
			active,
		))
	}
}

func writeHeader(w io.Writer, columns []string, widths []int) {
	fmt.Fprintln(w, headerStyle.Render(formatRow(widths, columns...)))

	rules := make([]string, len(widths))
	for i, n := range widths {
		rules[i] = strings.Repeat("─", n)
	}
	fmt.Fprintln(w, formatRow(widths, rules...))
}

// formatRow lays out cells in columns of the given display widths,
// truncating and padding by terminal cells rather than bytes or runes.
func formatRow(widths []int, cells ...string) string {
	var sb strings.Builder
	sb.WriteString(" ")
	for i, cell := range cells {
		cell = truncate(cell, widths[i])
		sb.WriteString(" ")
		sb.WriteString(cell)
		if i < len(cells)-1 {
			sb.WriteString(strings.Repeat(" ", widths[i]-ansi.StringWidth(cell)))
		}
	}
	return sb.String()
}

func displayName(name string) string {
	if name == "" {
		return dimStyle.Render(unknownName)
	}
	return name
}

func truncate(s string, maxWidth int) string {
	return ansi.Truncate(s, maxWidth, "…")
}
