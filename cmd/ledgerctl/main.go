package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chainproof/ledgerd/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile   string
	serverURL string
	tenantID  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Audit ledger CLI",
	Long: `ledgerctl is the command-line interface for the ledgerd audit service.

It appends records to a tenant's tamper-evident chain, verifies chain
integrity, and drives compliance exports.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.ledgerctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if tenantID == "" {
			tenantID = viper.GetString("tenant_id")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.ledgerctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledgerd base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant id (required)")

	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(headCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(exportsCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("--tenant is required (or set tenant_id in config)")
	}
	return client.New(serverURL, tenantID), nil
}

// ── append ──────────────────────────────────────────────────────────

var (
	appendEntityID string
	appendUser     string
	appendUserName string
	appendRole     string
	appendMeta     []string
)

var appendCmd = &cobra.Command{
	Use:   "append <entity> <action>",
	Short: "Append one audit record to the tenant's chain",
	Long: `Append records an event on the tenant's tamper-evident chain:

  ledgerctl --tenant acme append invoice CREATE --entity-id inv-42 --user u1

Metadata pairs attach free-form context:

  ledgerctl --tenant acme append invoice UPDATE --meta amount=120.50 --meta currency=EUR`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		draft := client.Draft{
			Entity:   args[0],
			Action:   args[1],
			EntityID: appendEntityID,
			UserID:   appendUser,
			UserName: appendUserName,
			UserRole: appendRole,
		}
		if len(appendMeta) > 0 {
			draft.Metadata = make(map[string]any, len(appendMeta))
			for _, kv := range appendMeta {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --meta %q, want key=value", kv)
				}
				draft.Metadata[k] = v
			}
		}

		rec, err := c.AppendRecord(context.Background(), draft)
		if err != nil {
			return err
		}
		fmt.Printf("appended %s\n  event: %s\n  hash:  %s\n  prev:  %s\n",
			rec.ID, rec.EventType, rec.Hash, orSentinel(rec.PreviousHash))
		return nil
	},
}

func init() {
	appendCmd.Flags().StringVar(&appendEntityID, "entity-id", "", "Entity instance id")
	appendCmd.Flags().StringVar(&appendUser, "user", "", "Acting user id")
	appendCmd.Flags().StringVar(&appendUserName, "user-name", "", "Acting user display name")
	appendCmd.Flags().StringVar(&appendRole, "role", "", "Acting user role")
	appendCmd.Flags().StringArrayVar(&appendMeta, "meta", nil, "Metadata key=value pair (repeatable)")
}

// ── records ─────────────────────────────────────────────────────────

var (
	recordsFrom   string
	recordsTo     string
	recordsFormat string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List the tenant's records in append order",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		from, to, err := parseWindow(recordsFrom, recordsTo)
		if err != nil {
			return err
		}

		records, err := c.Records(context.Background(), from, to)
		if err != nil {
			return err
		}

		if recordsFormat == "json" {
			return printJSON(records)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tEVENT\tENTITY ID\tUSER\tHASH")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.12s…\n",
				r.Timestamp.Format(time.RFC3339), r.EventType, r.EntityID, r.UserID, r.Hash)
		}
		return w.Flush()
	},
}

func init() {
	recordsCmd.Flags().StringVar(&recordsFrom, "from", "", "Window start (RFC 3339)")
	recordsCmd.Flags().StringVar(&recordsTo, "to", "", "Window end (RFC 3339)")
	recordsCmd.Flags().StringVar(&recordsFormat, "format", "text", "Output format: text or json")
}

// ── verify ──────────────────────────────────────────────────────────

var verifyFormat string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute the tenant's full chain and report integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		report, err := c.Verify(context.Background())
		if err != nil {
			return err
		}

		if verifyFormat == "json" {
			return printJSON(report)
		}

		if report.IsValid {
			fmt.Printf("chain OK — %d records verified\n", report.TotalRecords)
			return nil
		}

		fmt.Printf("chain INVALID — %d of %d records failed\n",
			report.InvalidRecords, report.TotalRecords)
		for _, e := range report.Errors {
			fmt.Printf("  %s\n", e)
		}
		for _, g := range report.Gaps {
			fmt.Printf("  gap %s → %s (~%d records missing)\n",
				g.From.Format(time.RFC3339), g.To.Format(time.RFC3339), g.MissingRecordsEstimate)
		}
		os.Exit(1)
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "text", "Output format: text or json")
}

// ── stats ───────────────────────────────────────────────────────────

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summary counts plus an embedded integrity report",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		stats, err := c.Stats(context.Background())
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

// ── head ────────────────────────────────────────────────────────────

var headCmd = &cobra.Command{
	Use:   "head",
	Short: "Show the chain length and current head hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		head, err := c.Head(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("records: %d\nhead:    %s\n", head.Records, orSentinel(head.Head))
		return nil
	},
}

// ── export ──────────────────────────────────────────────────────────

var (
	exportFrom   string
	exportTo     string
	exportFormat string
	exportOut    string
	exportWait   bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Create a compliance export and optionally download it",
	Long: `Export renders the tenant's records for a window into a signed,
checksummed file:

  ledgerctl --tenant acme export --from 2025-03-01T00:00:00Z --to 2025-04-01T00:00:00Z \
      --export-format saft --wait --out audit.xml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		from, to, err := parseWindow(exportFrom, exportTo)
		if err != nil {
			return err
		}

		ctx := context.Background()
		job, err := c.CreateExport(ctx, client.ExportRequest{
			StartDate: from,
			EndDate:   to,
			Format:    exportFormat,
		})
		if err != nil {
			return err
		}
		fmt.Printf("export %s created (%s)\n", job.ID, job.Status)

		if !exportWait {
			return nil
		}

		job, err = c.WaitExport(ctx, job.ID, 250*time.Millisecond)
		if err != nil {
			return err
		}
		if job.Status != "completed" {
			return fmt.Errorf("export failed: %s", job.FailureReason)
		}
		fmt.Printf("completed — %d records, %d bytes\n  sha256: %s\n",
			job.RecordCount, job.FileSize, job.Checksum)

		if exportOut == "" {
			return nil
		}
		content, filename, err := c.Download(ctx, job.ID)
		if err != nil {
			return err
		}
		out := exportOut
		if out == "-" {
			_, err = os.Stdout.Write(content)
			return err
		}
		if err := os.WriteFile(out, content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		fmt.Printf("wrote %s (%s)\n", out, filename)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Window start (RFC 3339)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Window end (RFC 3339)")
	exportCmd.Flags().StringVar(&exportFormat, "export-format", "json", "Export format: json, csv, xml or saft")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Write the rendered file here ('-' for stdout); implies --wait")
	exportCmd.Flags().BoolVar(&exportWait, "wait", false, "Block until the export reaches a terminal state")
	exportCmd.PreRun = func(cmd *cobra.Command, args []string) {
		if exportOut != "" {
			exportWait = true
		}
	}
}

// ── exports (list) ──────────────────────────────────────────────────

var exportsCmd = &cobra.Command{
	Use:   "exports",
	Short: "List the tenant's export jobs newest-first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		jobs, err := c.ListExports(context.Background())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tRECORDS\tSIZE\tCREATED\tSIGNED BY")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				j.ID, j.Status, j.RecordCount, j.FileSize,
				j.CreatedAt.Format(time.RFC3339), j.SignedBy)
		}
		return w.Flush()
	},
}

// ── sign / cancel ───────────────────────────────────────────────────

var (
	signBy   string
	signCert string
)

var signCmd = &cobra.Command{
	Use:   "sign <job-id>",
	Short: "Attach a signer identity to a completed export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if signBy == "" {
			return fmt.Errorf("--by is required")
		}

		job, err := c.SignExport(context.Background(), args[0], signBy, signCert)
		if err != nil {
			return err
		}
		fmt.Printf("signed %s\n  by:   %s\n  cert: %s\n", job.ID, job.SignedBy, job.Certificate)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or processing export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.CancelExport(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("cancelled %s\n", args[0])
		return nil
	},
}

func init() {
	signCmd.Flags().StringVar(&signBy, "by", "", "Signer identity (e.g. auditor email)")
	signCmd.Flags().StringVar(&signCert, "cert", "", "Certificate to attach (derived from the checksum when omitted)")
}

// ── version ─────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("ledgerctl", version)
	},
}

// ── helpers ─────────────────────────────────────────────────────────

func parseWindow(from, to string) (time.Time, time.Time, error) {
	var f, t time.Time
	var err error
	if from != "" {
		if f, err = time.Parse(time.RFC3339, from); err != nil {
			return f, t, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if to != "" {
		if t, err = time.Parse(time.RFC3339, to); err != nil {
			return f, t, fmt.Errorf("invalid --to: %w", err)
		}
	}
	return f, t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orSentinel(hash string) string {
	if hash == "" {
		return "(genesis)"
	}
	return hash
}
