package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/certsweep/internal/config"
	"github.com/anstrom/certsweep/internal/results"
	"github.com/anstrom/certsweep/internal/services"
	"github.com/anstrom/certsweep/internal/sweep"
)

// Output formats.
const (
	outputTable = "table"
	outputJSON  = "json"
)

var (
	scanSort   string
	scanFilter string
	scanOutput string
	scanQuiet  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan RANGE",
	Short: "Sweep a range for hosts with untrusted certificates",
	Long: `Probe every address of RANGE on one port. Hosts that accept a TCP
connection but fail certificate validation are reported live on stderr and
listed, sorted by address, when the sweep ends.

Accepted range forms:
  192.168.1          all hosts .1-.254
  192.168.1.*        all hosts .1-.254
  192.168.1.0/24     all hosts .1-.254
  192.168.1.10       a single address
  192.168.1.10-20    an inclusive span
  192.168.1.10-192.168.1.20

An invalid port prints a warning and the sweep continues on 443.
Ctrl-C cancels the sweep; hits found so far are still printed.`,
	Example: `  certsweep scan 192.168.1.0/24
  certsweep scan 10.0.5.1-100 --port 8443 --concurrency 64
  certsweep scan 192.168.1 --reverse-dns --sort desc --output json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runScan(ctx, cfg, scanOptions{
			Range:  args[0],
			Order:  results.ParseOrder(scanSort),
			Filter: scanFilter,
			Output: scanOutput,
			Quiet:  scanQuiet,
		}, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)

	flags := scanCmd.Flags()
	flags.StringP("port", "p", "", "port to probe (default 443)")
	flags.IntP("concurrency", "c", 0, "maximum probes in flight (0 = automatic)")
	flags.Duration("tcp-timeout", config.DefaultTCPTimeout, "TCP connect timeout")
	flags.Duration("tls-timeout", config.DefaultTLSTimeout, "TLS handshake and HTTP exchange timeout")
	flags.String("lookup-file", "", "YAML file mapping addresses to annotations")
	flags.Bool("reverse-dns", false, "annotate hits with their PTR record")
	flags.String("dns-server", "", "resolver for --reverse-dns (host:port)")
	flags.StringVar(&scanSort, "sort", "asc", "result order by address: asc or desc")
	flags.StringVar(&scanFilter, "filter", "", "only list results containing this text")
	flags.StringVarP(&scanOutput, "output", "o", outputTable, "output format: table or json")
	flags.BoolVarP(&scanQuiet, "quiet", "q", false, "do not stream progress to stderr")

	bindFlags(flags, map[string]string{
		"port":        "scan.port",
		"concurrency": "scan.concurrency",
		"tcp-timeout": "scan.tcp_timeout",
		"tls-timeout": "scan.tls_timeout",
		"lookup-file": "lookup.file",
		"reverse-dns": "lookup.reverse_dns",
		"dns-server":  "lookup.dns_server",
	})
}

type scanOptions struct {
	Range  string
	Order  results.Order
	Filter string
	Output string
	Quiet  bool
}

// scanReport is the JSON form of a finished sweep.
type scanReport struct {
	Summary  sweep.Summary            `json:"summary"`
	Warnings []string                 `json:"warnings,omitempty"`
	Results  []results.EnrichedResult `json:"results"`
}

// runScan runs one sweep to its terminal signal. Cancelling ctx cancels the
// sweep; the hits found before that are still reported.
func runScan(ctx context.Context, cfg *config.Config, opts scanOptions, stdout, stderr io.Writer) error {
	if opts.Output != outputTable && opts.Output != outputJSON {
		return fmt.Errorf("unknown output format %q (want table or json)", opts.Output)
	}

	// The pump goroutine streams to stderr while this one reports.
	stderr = &syncWriter{w: stderr}

	// Sessions must outlive ctx so a cancelled sweep can still drain.
	c, err := buildComponents(context.WithoutCancel(ctx), cfg, nil, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	if !opts.Quiet {
		c.service.SetPublisher(&streamPrinter{w: stderr})
	}

	resp, err := c.service.Start(services.StartRequest{
		Range:       opts.Range,
		Port:        cfg.Scan.Port,
		Concurrency: cfg.Scan.Concurrency,
	})
	if err != nil {
		return err
	}
	for _, warning := range resp.Warnings {
		fmt.Fprintf(stderr, "warning: %s\n", warning)
	}
	if !opts.Quiet {
		fmt.Fprintf(stderr, "sweeping %d addresses on port %d with %d workers\n",
			resp.Total, resp.Port, resp.Concurrency)
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			c.service.Cancel()
		case <-finished:
		}
	}()

	summary, err := c.service.Wait(context.Background())
	if err != nil {
		return err
	}

	rows, err := c.service.Results(opts.Order, opts.Filter)
	if err != nil {
		return err
	}

	switch opts.Output {
	case outputJSON:
		if rows == nil {
			rows = []results.EnrichedResult{}
		}
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(scanReport{Summary: summary, Warnings: resp.Warnings, Results: rows}); err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
	default:
		if len(rows) > 0 {
			renderResults(stdout, rows)
		}
		fmt.Fprintln(stdout, summaryLine(summary))
	}
	return nil
}

func renderResults(w io.Writer, rows []results.EnrichedResult) {
	table := tablewriter.NewWriter(w)
	table.Header("Address", "Port", "Annotation", "URL")
	for _, row := range rows {
		_ = table.Append([]string{row.Address, strconv.Itoa(row.Port), row.Annotation, row.URL})
	}
	_ = table.Render()
}

// summaryLine renders e.g. "completed · 3 detected · 5120ms".
func summaryLine(s sweep.Summary) string {
	return fmt.Sprintf("%s · %d detected · %dms", s.Status, s.ClassifiedCount, s.ElapsedMs)
}

// streamPrinter writes live session events. Only the scan service's pump
// goroutine calls it.
type streamPrinter struct {
	w        io.Writer
	progress bool
}

var _ services.Publisher = (*streamPrinter)(nil)

func (p *streamPrinter) PublishProgress(_ string, progress sweep.Progress) {
	fmt.Fprintf(p.w, "\r%d/%d probed", progress.Completed, progress.Total)
	p.progress = true
}

func (p *streamPrinter) PublishResult(_ string, result results.EnrichedResult) {
	p.endLine()
	fmt.Fprintf(p.w, "found %s  %s\n", result.Display(), result.URL)
}

func (p *streamPrinter) PublishTerminal(summary sweep.Summary) {
	p.endLine()
	if summary.Status == sweep.StatusCancelled {
		fmt.Fprintf(p.w, "cancelled after %d of %d addresses\n", summary.Completed, summary.Total)
	}
}

func (p *streamPrinter) endLine() {
	if p.progress {
		fmt.Fprintln(p.w)
		p.progress = false
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
