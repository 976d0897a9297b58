package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/uav-ledger/uavledger/internal/archive"
	"github.com/uav-ledger/uavledger/pkg/chain"
	"github.com/uav-ledger/uavledger/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	ledgerURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "uavlog",
	Short: "UAV flight-log ledger CLI",
	Long: `uavlog is the command-line interface for the flight-log ledger.

It registers flights, uploads telemetry logs in chained chunks, records
checkpoints, and verifies logs against the ledger's trust anchors.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.uavlog")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if ledgerURL == "" {
			ledgerURL = viper.GetString("ledger_url")
		}
		if ledgerURL == "" {
			ledgerURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.uavlog/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&ledgerURL, "ledger", "", "ledger service URL (default http://localhost:8080)")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(flightsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(receiptsCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── register ─────────────────────────────────────────────────────────────────

var registerCmd = &cobra.Command{
	Use:   "register <mission-id>",
	Short: "Register a new flight log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(ledgerURL)
		f, err := c.RegisterFlight(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("register flight: %w", err)
		}

		fmt.Printf("✓ Flight registered\n\n")
		fmt.Printf("  Mission ID:  %s\n", f.MissionID)
		fmt.Printf("  Mission Key: %s\n", f.MissionKey)
		fmt.Printf("  Status:      %s\n\n", f.Status)
		fmt.Println("Next: uavlog upload <logfile> --mission " + f.MissionID)
		return nil
	},
}

// ── upload ───────────────────────────────────────────────────────────────────

var (
	uploadMission   string
	uploadChunks    int
	uploadType      string
	uploadBucket    string
	uploadEndpoint  string
	uploadRegion    string
	uploadAccessKey string
	uploadSecretKey string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <logfile>",
	Short: "Chain a telemetry log onto a flight, in checkpointed chunks",
	Long: `Upload reads a telemetry log file (one entry per line), splits it into
chunks, and chains each chunk onto the flight's log. After every chunk it
records a checkpoint, so later verification can localize tampering to a
chunk boundary.

Lines that parse as a JSON object become typed entry fields; anything else
is carried as a single raw field.

With --archive-bucket set, the cumulative raw log is also uploaded to the
versioned S3 archive after each chunk, mirroring how airborne units stream
partial logs during a mission.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadMission, "mission", "", "Mission ID (required)")
	uploadCmd.Flags().IntVar(&uploadChunks, "chunks", 4, "Number of cumulative chunks to upload")
	uploadCmd.Flags().StringVar(&uploadType, "entry-type", "telemetry", "Entry type for uploaded lines")
	uploadCmd.Flags().StringVar(&uploadBucket, "archive-bucket", "", "S3 bucket for the raw-log archive (optional)")
	uploadCmd.Flags().StringVar(&uploadEndpoint, "archive-endpoint", "", "S3-compatible endpoint (optional)")
	uploadCmd.Flags().StringVar(&uploadRegion, "archive-region", "us-east-1", "S3 region")
	uploadCmd.Flags().StringVar(&uploadAccessKey, "archive-access-key", "", "S3 access key ID")
	uploadCmd.Flags().StringVar(&uploadSecretKey, "archive-secret-key", "", "S3 secret access key")
	_ = uploadCmd.MarkFlagRequired("mission")
}

func runUpload(cmd *cobra.Command, args []string) error {
	lines, err := readLogLines(args[0])
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("log file %s is empty", args[0])
	}
	if uploadChunks < 1 {
		uploadChunks = 1
	}
	if uploadChunks > len(lines) {
		uploadChunks = len(lines)
	}

	var archiveStore *archive.Store
	if uploadBucket != "" {
		archiveStore, err = archive.NewStore(archive.Config{
			Bucket:          uploadBucket,
			Endpoint:        uploadEndpoint,
			Region:          uploadRegion,
			AccessKeyID:     uploadAccessKey,
			SecretAccessKey: uploadSecretKey,
		})
		if err != nil {
			return fmt.Errorf("archive store: %w", err)
		}
	}

	ctx := context.Background()
	c := client.New(ledgerURL)

	f, err := c.GetFlight(ctx, uploadMission)
	if err != nil {
		return fmt.Errorf("get flight: %w", err)
	}
	next := f.EntryCount

	base := time.Now().UTC()
	chunkSize := (len(lines) + uploadChunks - 1) / uploadChunks

	uploaded := 0
	for chunk := 0; uploaded < len(lines); chunk++ {
		end := uploaded + chunkSize
		if end > len(lines) {
			end = len(lines)
		}

		entries := make([]chain.Entry, 0, end-uploaded)
		for i, line := range lines[uploaded:end] {
			entries = append(entries, chain.Entry{
				Index:     next + uint64(uploaded+i),
				Timestamp: base.Add(time.Duration(uploaded+i) * time.Second),
				Type:      uploadType,
				Fields:    lineFields(line),
			})
		}

		res, err := c.AppendEntries(ctx, uploadMission, entries)
		if err != nil {
			return fmt.Errorf("append chunk %d: %w", chunk+1, err)
		}

		cp, err := c.RecordCheckpoint(ctx, uploadMission)
		if err != nil {
			return fmt.Errorf("checkpoint after chunk %d: %w", chunk+1, err)
		}

		fmt.Printf("  chunk %d: %d entries, tip %d, checkpoint %s\n",
			chunk+1, res.Appended, res.TipIndex, cp.ChainHash[:16])

		if archiveStore != nil {
			// Cumulative snapshot: everything sent so far, as one version.
			cumulative := strings.Join(lines[:end], "\n") + "\n"
			versionID, err := archiveStore.PutVersion(ctx, uploadMission, []byte(cumulative))
			if err != nil {
				return fmt.Errorf("archive chunk %d: %w", chunk+1, err)
			}
			fmt.Printf("           archived version %s\n", versionID)
		}

		uploaded = end
	}

	fmt.Printf("✓ Uploaded %d entries in %d chunk(s)\n", len(lines), uploadChunks)
	return nil
}

// readLogLines loads the non-empty lines of a log file.
func readLogLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

// lineFields converts a log line into typed entry fields. JSON objects are
// mapped field by field; anything else becomes a single raw field.
func lineFields(line string) map[string]chain.Value {
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return map[string]chain.Value{"raw": chain.String(line)}
	}

	fields := make(map[string]chain.Value, len(obj))
	for k, v := range obj {
		fields[k] = jsonToValue(v)
	}
	return fields
}

func jsonToValue(v any) chain.Value {
	switch x := v.(type) {
	case nil:
		return chain.Null()
	case bool:
		return chain.Bool(x)
	case float64:
		// JSON numbers arrive as float64; keep integral values as ints so
		// the canonical encoding matches a producer that wrote them as ints.
		if x == float64(int64(x)) {
			return chain.Int(int64(x))
		}
		return chain.Float(x)
	case string:
		return chain.String(x)
	case []any:
		items := make([]chain.Value, len(x))
		for i, item := range x {
			items[i] = jsonToValue(item)
		}
		return chain.List(items...)
	case map[string]any:
		m := make(map[string]chain.Value, len(x))
		for k, item := range x {
			m[k] = jsonToValue(item)
		}
		return chain.Map(m)
	default:
		return chain.String(fmt.Sprintf("%v", x))
	}
}

// ── flights ──────────────────────────────────────────────────────────────────

var flightsCmd = &cobra.Command{
	Use:   "flights",
	Short: "List registered flights",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(ledgerURL)
		flights, err := c.ListFlights(context.Background(), 100)
		if err != nil {
			return fmt.Errorf("list flights: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MISSION\tSTATUS\tENTRIES\tTIP HASH\tCREATED")
		for _, f := range flights {
			tip := f.TipChainHash
			if len(tip) > 16 {
				tip = tip[:16]
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				f.MissionID, f.Status, f.EntryCount, tip,
				f.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCandidateFile string

var verifyCmd = &cobra.Command{
	Use:   "verify <mission-id>",
	Short: "Verify a flight log against its trust anchors",
	Long: `Verify replays a flight log against the ledger's recorded checkpoint
history (or its latest anchored digest) and reports the outcome.

Without --file, the ledger verifies its own stored copy. With --file, the
given JSON array of entries is submitted as a candidate log — use this to
check an exported log against the ledger's anchors.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c := client.New(ledgerURL)

		var report *chain.Report
		var err error
		if verifyCandidateFile != "" {
			data, readErr := os.ReadFile(verifyCandidateFile)
			if readErr != nil {
				return fmt.Errorf("read candidate file: %w", readErr)
			}
			var entries []chain.Entry
			if jsonErr := json.Unmarshal(data, &entries); jsonErr != nil {
				return fmt.Errorf("parse candidate file: %w", jsonErr)
			}
			report, err = c.VerifyCandidate(ctx, args[0], entries)
		} else {
			report, err = c.VerifyStored(ctx, args[0])
		}
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}

		if report.Tampered() {
			fmt.Printf("✗ FAIL — log diverges from the trusted chain\n\n")
			if report.FirstDivergence != nil {
				fmt.Printf("  First divergence: entry %d\n", *report.FirstDivergence)
			}
			fmt.Printf("  Expected:   %s\n", report.ExpectedDigest)
			fmt.Printf("  Recomputed: %s\n", report.RecomputedDigest)
			os.Exit(1)
		}

		fmt.Printf("✓ PASS — %d entries verified\n", report.CheckedEntryCount)
		if report.UncoveredSuffixLength > 0 {
			fmt.Printf("  Note: %d trailing entries are newer than the last trust anchor\n",
				report.UncoveredSuffixLength)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyCandidateFile, "file", "", "JSON file with candidate entries to verify instead of the stored log")
}

// ── digest / close / receipts ────────────────────────────────────────────────

var digestCmd = &cobra.Command{
	Use:   "digest <mission-id>",
	Short: "Compute and anchor the flight's mission digest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(ledgerURL)
		res, err := c.Finalize(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("finalize: %w", err)
		}

		fmt.Printf("Mission:     %s\n", res.Digest.MissionID)
		fmt.Printf("Algorithm:   %s\n", res.Digest.Algorithm)
		fmt.Printf("Entries:     %d\n", res.Digest.EntryCount)
		fmt.Printf("Final hash:  %s\n", res.Digest.FinalChainHash)
		if res.Receipt != nil {
			fmt.Printf("Anchored:    %s (%s)\n", res.Receipt.Ref, res.Receipt.AnchoredAt.Format(time.RFC3339))
		}
		return nil
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <mission-id>",
	Short: "Anchor a terminal digest and freeze the flight log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(ledgerURL)
		f, err := c.CloseFlight(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("close flight: %w", err)
		}

		fmt.Printf("✓ Flight %s closed with %d entries\n", f.MissionID, f.EntryCount)
		return nil
	},
}

var receiptsCmd = &cobra.Command{
	Use:   "receipts <mission-id>",
	Short: "List anchor receipts recorded for a flight",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(ledgerURL)
		receipts, err := c.ListReceipts(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("list receipts: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "REF\tENTRIES\tDIGEST\tANCHORED")
		for _, r := range receipts {
			digest := r.Digest
			if len(digest) > 16 {
				digest = digest[:16]
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				r.Ref, r.EntryCount, digest, r.AnchoredAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print uavlog version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("uavlog %s (%s)\n", version, chain.AlgorithmID)
	},
}
