package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.io/infrasutra/gigdesk/internal/syncer"
)

var syncInbox string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync configured inboxes once",
	Long: `Fetch new messages from every configured inbox (or just --inbox),
thread them and link them to bookings. The command exits non-zero when
any inbox failed.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncInbox, "inbox", "", "Sync only this inbox id")
}

func runSync(cmd *cobra.Command, args []string) error {
	orchestrator, _, err := newOrchestrator(nil)
	if err != nil {
		return err
	}
	report, err := orchestrator.Run(cmd.Context(), syncer.Request{
		InboxID: syncInbox,
		Trigger: syncer.TriggerCLI,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		for _, r := range report.Inboxes {
			if r.Error != "" {
				fmt.Printf("%-20s %-8s failed at %s: %s\n", r.InboxID, r.State, r.FailedAt, r.Error)
				continue
			}
			fmt.Printf("%-20s %-8s fetched=%d inserted=%d duplicates=%d skipped=%d threads=%d linked=%d (%dms)\n",
				r.InboxID, r.State, r.Fetched, r.Inserted, r.Duplicates, r.Skipped, r.NewThreads, r.Linked, r.DurationMS)
		}
		fmt.Printf("%d/%d inboxes synced\n", report.Succeeded, report.Attempted)
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d inbox(es) failed", report.Failed)
	}
	return nil
}
