package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"recsync/internal/app"
	"recsync/internal/config"
	"recsync/internal/rec"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Sync", "Scan").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "recsync",
	Short: "Recorder sync and integrity tool",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Printf("Device Endpoint: %s\n", cfg.Device.Endpoint)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:       %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:        %s\n", cfg.LogDir)
		fmt.Printf("Recordings Dir: %s\n", cfg.Storage.RecordingsDir)
		fmt.Printf("Endpoint:       %s\n", cfg.Device.Endpoint)
		fmt.Printf("Database:       %s (%s)\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Archive:        %s\n", cfg.Archive.Type)
		return nil
	},
}

// device command
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Query and manage the recorder",
}

var deviceInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show device, storage and settings info",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("DeviceInfo")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()
		info, err := a.ConnectDevice(ctx)
		if err != nil {
			return fmt.Errorf("connecting: %w", err)
		}

		fmt.Printf("Model:    %s\n", info.Model)
		fmt.Printf("Serial:   %s\n", info.Serial)
		fmt.Printf("Firmware: %s\n", info.Firmware)

		si, err := a.Device().StorageInfo(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Storage:  %d / %d bytes used\n", si.Used, si.Capacity)

		settings, err := a.Device().Settings(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Auto-record: %v  Auto-play: %v\n", settings.AutoRecord, settings.AutoPlay)
		return nil
	},
}

var deviceSyncTimeCmd = &cobra.Command{
	Use:   "sync-time",
	Short: "Set the device clock from the host clock",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SyncTime")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()
		if _, err := a.ConnectDevice(ctx); err != nil {
			return fmt.Errorf("connecting: %w", err)
		}

		t, err := a.SyncTime(ctx)
		if err != nil {
			return fmt.Errorf("syncing time: %w", err)
		}
		fmt.Printf("Device clock set to %s\n", t.UTC().Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings known on device and locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")

		a, err := newApp("ListRecordings")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()
		if _, err := a.ConnectDevice(ctx); err != nil {
			return fmt.Errorf("connecting: %w", err)
		}

		recordings, err := a.ListRecordings(ctx, func(found, total int) {
			fmt.Fprintf(os.Stderr, "\rlisting %d/%d", found, total)
		}, refresh)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}

		if len(recordings) == 0 {
			fmt.Println("No recordings found.")
			return nil
		}

		for _, r := range recordings {
			date := "unknown"
			if !r.DateRecorded.IsZero() {
				date = r.DateRecorded.UTC().Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-12s %-28s %10d  %s  %s\n",
				r.Location(), r.DeviceName, r.Size, date, r.SyncStatus)
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download recordings not yet on local storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()
		if _, err := a.ConnectDevice(ctx); err != nil {
			return fmt.Errorf("connecting: %w", err)
		}

		result, err := a.Sync(ctx, func(found, total int) {
			fmt.Fprintf(os.Stderr, "\rlisting %d/%d", found, total)
		})
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("Synced: %d  Failed: %d  Cancelled: %d\n",
			result.Succeeded, result.Failed, result.Cancelled)
		for _, jr := range result.Items {
			if jr.Err != nil {
				fmt.Printf("  %s: %v\n", jr.DeviceName, jr.Err)
			}
		}
		if result.Failed > 0 {
			os.Exit(1)
		}
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a full integrity scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Scan")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Scan(context.Background())
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		if len(report.Issues) == 0 {
			fmt.Println("No issues found.")
			return nil
		}

		fmt.Printf("Found %d issue(s):\n", len(report.Issues))
		for _, issue := range report.Issues {
			auto := " "
			if issue.AutoRepairable {
				auto = "*"
			}
			fmt.Printf("%s [%s] %-20s %s\n", auto, issue.Severity, issue.Type, issue.Description)
			fmt.Printf("    id: %s  suggested: %s\n", issue.ID, issue.SuggestedAction)
		}
		fmt.Println("\nIssues marked * can be repaired with 'recsync repair --all'.")
		return nil
	},
}

// repair command
var repairCmd = &cobra.Command{
	Use:   "repair [ISSUE-ID]",
	Short: "Repair issues found by the latest scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) != 1 {
			return fmt.Errorf("provide an issue id or --all")
		}

		a, err := newApp("Repair")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()

		// Repairs act on the latest report, so run a scan first to ensure
		// the findings are current.
		if _, err := a.Scan(ctx); err != nil {
			return fmt.Errorf("pre-repair scan failed: %w", err)
		}

		var results []rec.RepairResult
		if all {
			results = a.RepairAll(ctx)
		} else {
			results = append(results, a.Repair(ctx, args[0]))
		}

		if len(results) == 0 {
			fmt.Println("Nothing to repair.")
			return nil
		}

		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
				fmt.Printf("FAILED %s: %v\n", r.IssueID, r.Err)
				continue
			}
			fmt.Printf("repaired %s: %s\n", r.IssueID, r.Action)
		}
		if failed > 0 {
			return fmt.Errorf("%d repair(s) failed", failed)
		}
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Copy synced recordings to the configured vault",
}

var archiveInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the archive encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ArchiveInit")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Print("Passphrase for the private key: ")
		pass, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		fmt.Print("Confirm passphrase: ")
		confirm, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if string(pass) != string(confirm) {
			return fmt.Errorf("passphrases do not match")
		}
		if strings.TrimSpace(string(pass)) == "" {
			return fmt.Errorf("passphrase must not be empty")
		}

		if err := a.ArchiveInit(string(pass)); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Keys written to %s\n", a.Config.Archive.Encryption.PublicKeyPath)
		return nil
	},
}

var archiveRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Upload synced recordings to the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ArchiveRun")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.ArchiveRun(context.Background())
		if err != nil {
			return fmt.Errorf("archive failed: %w", err)
		}

		fmt.Printf("Archived: %d  Skipped: %d  Failed: %d\n",
			result.Archived, result.Skipped, result.Failed)
		for _, e := range result.Errors {
			fmt.Printf("  %v\n", e)
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d upload(s) failed", result.Failed)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	deviceCmd.AddCommand(deviceInfoCmd)
	deviceCmd.AddCommand(deviceSyncTimeCmd)

	listCmd.Flags().Bool("refresh", false, "force a fresh device listing")
	repairCmd.Flags().Bool("all", false, "repair every auto-repairable issue")

	archiveCmd.AddCommand(archiveInitCmd)
	archiveCmd.AddCommand(archiveRunCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(deviceCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(archiveCmd)
}
