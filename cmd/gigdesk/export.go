package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	exportBooking string
	exportOutput  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write bookings as an iCalendar file",
	Long: `Render every booking (or just --booking) as an .ics document. Without -o
the calendar is written to stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		exporter, err := newExporter()
		if err != nil {
			return err
		}
		doc, err := exporter.Export(cmd.Context(), exportBooking)
		if err != nil {
			return err
		}

		if exportOutput == "" {
			_, err := os.Stdout.Write(doc.Body)
			return err
		}
		if exportOutput == "." {
			exportOutput = doc.Filename
		}
		if err := os.WriteFile(exportOutput, doc.Body, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", exportOutput, err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", exportOutput, len(doc.Body))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportBooking, "booking", "", "Export a single booking id")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", `Output file ("." uses the suggested filename)`)
}
