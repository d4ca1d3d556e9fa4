package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/markus-lassfolk/acsd/pkg/acs"
	"github.com/markus-lassfolk/acsd/pkg/store"
	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

// Command line flags
var (
	addr         = flag.String("addr", "127.0.0.1:8095", "acsd API address")
	apiKey       = flag.String("api-key", os.Getenv("ACSD_API_KEY"), "API key (default $ACSD_API_KEY)")
	outputFormat = flag.String("format", "standard", "Output format: standard, json, csv")
	timeout      = flag.Duration("timeout", 30*time.Second, "Operation timeout")
	version      = flag.Bool("version", false, "Show version information")
)

const (
	AppName    = "acsctl"
	AppVersion = "1.0.0"
)

const usage = `Usage: acsctl [flags] <command> [args]

Commands:
  health                               daemon health
  status [iface]                       session state of one or all interfaces
  acs <iface> [request flags]          submit a DO_ACS request
  reselect <iface> [reason]            force a new selection
  radar <iface> <freq>                 report radar on the operating channel
  remove <iface>                       drop an interface session
  reply <job_id> <freq|channel>        answer an external selection job
  connections                          list concurrent connections
  connections set <iface> <mode> <freq> [width]
  connections delete <iface>
  history [-iface name] [-limit n]     recent completed selections

Flags:
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := newAPIClient(*addr, *apiKey, nil)
	if err := runCommand(ctx, c, os.Stdout, *outputFormat, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid arguments, see acsctl -h")

func runCommand(ctx context.Context, c *apiClient, w io.Writer, format string, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "health":
		h, err := c.Health(ctx)
		if err != nil {
			return err
		}
		return printJSON(w, h)

	case "status":
		if len(rest) == 1 {
			st, err := c.Status(ctx, rest[0])
			if err != nil {
				return err
			}
			return printStatuses(w, format, []acs.SessionStatus{*st})
		}
		sts, err := c.Interfaces(ctx)
		if err != nil {
			return err
		}
		return printStatuses(w, format, sts)

	case "acs":
		if len(rest) < 1 {
			return errUsage
		}
		req, err := parseRequest(rest[1:])
		if err != nil {
			return err
		}
		out, err := c.DoACS(ctx, rest[0], req)
		if err != nil {
			return err
		}
		return printOutcome(w, format, out)

	case "reselect":
		if len(rest) < 1 {
			return errUsage
		}
		reason := ""
		if len(rest) > 1 {
			reason = strings.Join(rest[1:], " ")
		}
		out, err := c.Reselect(ctx, rest[0], reason)
		if err != nil {
			return err
		}
		return printOutcome(w, format, out)

	case "radar":
		if len(rest) != 2 {
			return errUsage
		}
		freq, err := parseFreq(rest[1])
		if err != nil {
			return err
		}
		out, err := c.Radar(ctx, rest[0], freq)
		if err != nil {
			return err
		}
		return printOutcome(w, format, out)

	case "remove":
		if len(rest) != 1 {
			return errUsage
		}
		if err := c.Remove(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(w, "removed %s\n", rest[0])
		return nil

	case "reply":
		if len(rest) != 2 {
			return errUsage
		}
		freq, err := parseFreq(rest[1])
		if err != nil {
			return err
		}
		if err := c.Reply(ctx, rest[0], freq); err != nil {
			return err
		}
		fmt.Fprintf(w, "job %s answered with %d MHz\n", rest[0], freq)
		return nil

	case "connections":
		return runConnections(ctx, c, w, format, rest)

	case "history":
		fs := flag.NewFlagSet("history", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		iface := fs.String("iface", "", "only this interface")
		limit := fs.Int("limit", 20, "number of entries")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		entries, err := c.History(ctx, *iface, *limit)
		if err != nil {
			return err
		}
		return printHistory(w, format, entries)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func runConnections(ctx context.Context, c *apiClient, w io.Writer, format string, args []string) error {
	if len(args) == 0 {
		conns, err := c.Connections(ctx)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(w, conns)
		}
		for _, conn := range conns {
			fmt.Fprintf(w, "%-10s %-6s %5d MHz ch %-3d width %d\n",
				conn.Iface, conn.Mode, conn.Freq, wifi.FreqToChannel(conn.Freq), int(conn.Width))
		}
		return nil
	}

	switch args[0] {
	case "set":
		if len(args) < 4 || len(args) > 5 {
			return errUsage
		}
		var mode acs.ConnectionMode
		if err := mode.UnmarshalText([]byte(args[2])); err != nil {
			return err
		}
		freq, err := parseFreq(args[3])
		if err != nil {
			return err
		}
		conn := acs.Connection{Iface: args[1], Mode: mode, Freq: freq}
		if len(args) == 5 {
			width, err := strconv.Atoi(args[4])
			if err != nil {
				return fmt.Errorf("invalid width %q", args[4])
			}
			conn.Width = wifi.Width(width)
		}
		if err := c.SetConnection(ctx, conn); err != nil {
			return err
		}
		fmt.Fprintf(w, "connection %s set to %d MHz\n", conn.Iface, conn.Freq)
		return nil
	case "delete":
		if len(args) != 2 {
			return errUsage
		}
		if err := c.DeleteConnection(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(w, "connection %s deleted\n", args[1])
		return nil
	}
	return errUsage
}

// parseRequest builds a DO_ACS request from flags, or reads one as JSON
// with -file (use - for stdin)
func parseRequest(args []string) (*acs.Request, error) {
	fs := flag.NewFlagSet("acs", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	file := fs.String("file", "", "JSON request file, - for stdin")
	hwMode := fs.String("hw-mode", "11a", "hw mode (11b|11g|11a|any)")
	ht := fs.Bool("ht", true, "HT enabled")
	ht40 := fs.Bool("ht40", false, "HT40 enabled")
	vht := fs.Bool("vht", false, "VHT enabled")
	eht := fs.Bool("eht", false, "EHT enabled")
	width := fs.Int("width", 0, "channel width in MHz, 0 derives it from ht40")
	channels := fs.String("channels", "", "comma separated channel numbers")
	freqs := fs.String("freqs", "", "comma separated frequencies in MHz")
	puncture := fs.Uint("puncture", 0, "EHT puncture bitmap")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *file != "" {
		var r io.Reader = os.Stdin
		if *file != "-" {
			f, err := os.Open(*file)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			r = f
		}
		var req acs.Request
		if err := json.NewDecoder(r).Decode(&req); err != nil {
			return nil, fmt.Errorf("invalid request file: %w", err)
		}
		return &req, nil
	}

	mode, err := acs.ParseHwMode(*hwMode)
	if err != nil {
		return nil, err
	}
	req := &acs.Request{
		HwMode:         mode,
		HTEnabled:      *ht,
		HT40Enabled:    *ht40,
		VHTEnabled:     *vht,
		EHTEnabled:     *eht,
		Width:          wifi.Width(*width),
		PunctureBitmap: uint16(*puncture),
	}
	for _, s := range splitList(*channels) {
		ch, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q", s)
		}
		req.Channels = append(req.Channels, ch)
	}
	for _, s := range splitList(*freqs) {
		f, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid frequency %q", s)
		}
		req.Frequencies = append(req.Frequencies, uint32(f))
	}
	return req, nil
}

// parseFreq accepts a frequency in MHz or a 2.4/5 GHz channel number
func parseFreq(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q", s)
	}
	if n >= 2412 {
		return uint32(n), nil
	}
	freq := wifi.ChannelToFreqAny(int(n))
	if freq == 0 {
		return 0, fmt.Errorf("unknown channel %d", n)
	}
	return freq, nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printOutcome(w io.Writer, format string, out *acs.Outcome) error {
	if format == "json" {
		return printJSON(w, out)
	}
	if out.Pending {
		fmt.Fprintf(w, "selection pending (seq %d, job %s)\n", out.Seq, out.JobID)
		return nil
	}
	printResult(w, out.Result)
	return nil
}

func printResult(w io.Writer, res *acs.Result) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "%s: %d MHz (ch %d) width %d mode %s via %s",
		res.Iface, res.Primary, wifi.FreqToChannel(res.Primary), int(res.Width), res.HwMode, res.Path)
	if res.Fallback {
		fmt.Fprint(w, " [fallback]")
	}
	if res.Reason != "" {
		fmt.Fprintf(w, " (%s)", res.Reason)
	}
	fmt.Fprintln(w)
}

func printStatuses(w io.Writer, format string, sts []acs.SessionStatus) error {
	switch format {
	case "json":
		return printJSON(w, sts)
	case "csv":
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"iface", "state", "seq", "primary_freq", "width", "path"})
		for _, st := range sts {
			row := []string{st.Iface, st.State.String(), strconv.FormatUint(st.Seq, 10), "", "", ""}
			if st.Last != nil {
				row[3] = strconv.FormatUint(uint64(st.Last.Primary), 10)
				row[4] = strconv.Itoa(int(st.Last.Width))
				row[5] = st.Last.Path
			}
			_ = cw.Write(row)
		}
		cw.Flush()
		return cw.Error()
	}

	if len(sts) == 0 {
		fmt.Fprintln(w, "no interfaces")
		return nil
	}
	for _, st := range sts {
		fmt.Fprintf(w, "%s: %s seq %d", st.Iface, st.State, st.Seq)
		if st.JobID != "" {
			fmt.Fprintf(w, " job %s waiting %dms", st.JobID, st.WaitingMS)
		}
		fmt.Fprintln(w)
		if st.Last != nil {
			fmt.Fprint(w, "  last ")
			printResult(w, st.Last)
		}
	}
	return nil
}

func printHistory(w io.Writer, format string, entries []store.HistoryEntry) error {
	switch format {
	case "json":
		return printJSON(w, entries)
	case "csv":
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"timestamp", "iface", "seq", "path", "primary_freq", "width", "hw_mode", "fallback", "reason"})
		for _, e := range entries {
			_ = cw.Write([]string{
				e.Timestamp.UTC().Format(time.RFC3339),
				e.Iface,
				strconv.FormatUint(e.Seq, 10),
				e.Path,
				strconv.FormatUint(uint64(e.Primary), 10),
				strconv.Itoa(e.Width),
				e.HwMode,
				strconv.FormatBool(e.Fallback),
				e.Reason,
			})
		}
		cw.Flush()
		return cw.Error()
	}

	for _, e := range entries {
		fb := ""
		if e.Fallback {
			fb = " [fallback]"
		}
		fmt.Fprintf(w, "%s %-8s #%d %5d MHz width %-3d %-8s%s %s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Iface, e.Seq, e.Primary, e.Width, e.Path, fb, e.Reason)
	}
	return nil
}
