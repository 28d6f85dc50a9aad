package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/workspace/internal/sandbox"
)

// sandboxCmd prints a generated dataset so it can be loaded with
// PUT /api/v1/workspace/<domain>.
func sandboxCmd() *cobra.Command {
	cfg := sandbox.DefaultConfig()
	var domain string

	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Print generated demo collections as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return writeDataset(os.Stdout, cfg, domain, time.Now())
		},
	}
	cmd.Flags().IntVar(&cfg.Patients, "patients", cfg.Patients, "number of patients")
	cmd.Flags().IntVar(&cfg.AppointmentsPerPatient, "appointments", cfg.AppointmentsPerPatient, "appointments per patient")
	cmd.Flags().IntVar(&cfg.RecordingsPerPatient, "recordings", cfg.RecordingsPerPatient, "recordings per patient")
	cmd.Flags().BoolVar(&cfg.Templates, "templates", cfg.Templates, "include the preventive care catalog")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 0, "random seed (0 picks one)")
	cmd.Flags().StringVar(&domain, "domain", "", "print only one collection: patients, appointments, recordings or prevention")
	return cmd
}

func writeDataset(w io.Writer, cfg sandbox.Config, domain string, now time.Time) error {
	ds := sandbox.NewGenerator(cfg.Seed, now).Generate(cfg)

	var out any
	switch domain {
	case "":
		out = ds
	case "patients":
		out = ds.Patients
	case "appointments":
		out = ds.Appointments
	case "recordings":
		out = ds.Recordings
	case "prevention":
		out = ds.Templates
	default:
		return fmt.Errorf("unknown domain %q", domain)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
