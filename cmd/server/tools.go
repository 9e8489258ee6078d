package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/warp/forecast-engine/config"
	"github.com/warp/forecast-engine/forecast"
	"github.com/warp/forecast-engine/pkg/logger"
)

// =============================================================================
// PROJECT
// =============================================================================

// decodeVariants accepts either a bare array of variants or a fetch response
// with a products field.
func decodeVariants(r io.Reader) ([]forecast.Variant, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var variants []forecast.Variant
	if err := json.Unmarshal(raw, &variants); err == nil {
		return variants, nil
	}
	var page struct {
		Products []forecast.Variant `json:"products"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode variants: %w", err)
	}
	return page.Products, nil
}

func runProject(c *cli.Context) error {
	setupLogging(config.Load().Log)

	in := io.Reader(os.Stdin)
	if path := c.String("input"); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	variants, err := decodeVariants(in)
	if err != nil {
		return err
	}

	now := time.Now
	if s := c.String("today"); s != "" {
		today, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return fmt.Errorf("--today: %w", err)
		}
		now = func() time.Time { return today }
	}

	for _, v := range variants {
		if err := forecast.Validate(v); err != nil {
			if c.Bool("strict") {
				return fmt.Errorf("variant %s: %w", v.VariantID, err)
			}
			logger.Log.Warn().Err(err).Str("variant", string(v.VariantID)).Msg("left unprojected")
		}
	}

	engine := forecast.NewEngine(now)
	out, err := engine.ProjectParallel(c.Context, variants, c.Int("workers"))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"currentWeek": engine.CurrentWeek(),
		"products":    out,
	})
}

// =============================================================================
// LEDGER
// =============================================================================

type ledgerDump struct {
	Ledgers   map[forecast.Field]forecast.LedgerState `json:"ledgers"`
	Snapshots []forecast.Snapshot                     `json:"snapshots"`
	Stats     any                                     `json:"stats"`
	Audit     []forecast.AuditEntry                   `json:"audit,omitempty"`
}

func runLedger(c *cli.Context) error {
	cfg := config.Load()
	setupLogging(cfg.Log)
	path := cfg.DB.Path
	if c.IsSet("db") {
		path = c.String("db")
	}

	store, err := openStore(path)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := c.Context

	if c.Bool("reset") {
		if err := store.Reset(ctx); err != nil {
			return err
		}
		logger.Log.Info().Str("db", path).Msg("ledger state reset")
		return nil
	}

	dump := ledgerDump{Ledgers: make(map[forecast.Field]forecast.LedgerState)}
	only := forecast.VariantID(c.String("variant"))

	for _, field := range forecast.Fields {
		st, err := store.LoadLedger(ctx, field)
		if err != nil {
			return err
		}
		if only != "" {
			st = forecast.LedgerState{
				OriginalValues: map[forecast.VariantID]map[forecast.WeekKey]int{only: st.OriginalValues[only]},
				ChangedWeeks:   map[forecast.VariantID][]forecast.WeekKey{only: st.ChangedWeeks[only]},
			}
		}
		dump.Ledgers[field] = st
	}

	snaps, err := store.LoadSnapshots(ctx)
	if err != nil {
		return err
	}
	for _, s := range snaps {
		if only == "" || s.VariantID == only {
			dump.Snapshots = append(dump.Snapshots, s)
		}
	}

	if dump.Stats, err = store.Stats(ctx); err != nil {
		return err
	}

	if n := c.Int("audit"); n > 0 {
		filter := forecast.AuditFilter{}
		if only != "" {
			filter.VariantID = &only
		}
		entries, err := store.Query(ctx, filter)
		if err != nil {
			return err
		}
		if len(entries) > n {
			entries = entries[len(entries)-n:]
		}
		dump.Audit = entries
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}
