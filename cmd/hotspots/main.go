// Command hotspots clusters an observations CSV into hotspots and, given a
// fleet file, plans collection routes over them.
//
//	hotspots -in observations.csv -fleet fleet.yaml -format text
//
// CSV rows are lat,lon,density[,timestamp] with an optional header row and
// RFC 3339 timestamps. The fleet file is YAML:
//
//	vehicles:
//	  - id: truck-1
//	    capacityKg: 500
//	    depot: {lat: 40.7, lon: -74.0}
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
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ecoroute/internal/geo"
	"ecoroute/internal/hotspot"
	"ecoroute/internal/opt"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "hotspots: %v\n", err)
		os.Exit(1)
	}
}

type fleetFile struct {
	Vehicles []opt.Vehicle `yaml:"vehicles"`
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("hotspots", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	defaults := hotspot.DefaultParams()
	var (
		in       = fs.String("in", "-", "observations CSV path, - for stdin")
		radius   = fs.Float64("radius", defaults.NeighborhoodRadius, "neighborhood radius in degrees")
		minPts   = fs.Int("min-points", defaults.MinPoints, "minimum neighbors for a core point")
		kgPer    = fs.Float64("kg-per-unit", defaults.KgPerDensityUnit, "kilograms per density unit")
		fleet    = fs.String("fleet", "", "fleet YAML; when set, routes are planned")
		pins     = fs.String("pins", "", "comma-separated hotspot IDs to route (default all)")
		budget   = fs.Duration("budget", envDuration("OPT_TIME_BUDGET_MS", opt.DefaultTimeBudget), "optimizer time budget")
		circuity = fs.Float64("circuity", 0, "road circuity factor (0 for default)")
		seed     = fs.String("seed", string(opt.SeedInsertion), "construction seed: insertion or nearest")
		open     = fs.Bool("open", false, "end routes at the last stop instead of the depot")
		format   = fs.String("format", "json", "output format: json or text")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *format != "json" && *format != "text" {
		return fmt.Errorf("invalid -format %q (allowed: json,text)", *format)
	}

	r := stdin
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	obs, err := readObservations(r)
	if err != nil {
		return err
	}
	res, err := hotspot.Extract(obs, hotspot.Params{NeighborhoodRadius: *radius, MinPoints: *minPts, KgPerDensityUnit: *kgPer})
	if err != nil {
		return err
	}
	if *fleet == "" {
		return writeGeneration(stdout, res, *format)
	}

	vehicles, err := readFleet(*fleet)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(res.Hotspots))
	if *pins != "" {
		for _, id := range strings.Split(*pins, ",") {
			ids = append(ids, strings.TrimSpace(id))
		}
	} else {
		for _, h := range res.Hotspots {
			ids = append(ids, h.ID)
		}
	}
	closed := !*open
	rep, err := opt.Plan(ctx, opt.Snapshot{GenerationID: res.GenerationID, Hotspots: res.Hotspots}, opt.Request{
		GenerationID:   res.GenerationID,
		PinnedIDs:      ids,
		Vehicles:       vehicles,
		TimeBudget:     *budget,
		CircuityFactor: *circuity,
		ReturnToDepot:  &closed,
		Seed:           opt.SeedStrategy(*seed),
	})
	if err != nil {
		return err
	}
	if *format == "text" {
		_, err = io.WriteString(stdout, rep.Text())
		return err
	}
	return writeJSON(stdout, rep)
}

// readObservations parses lat,lon,density[,timestamp] rows. A first row whose
// latitude does not parse is treated as a header.
func readObservations(r io.Reader) ([]hotspot.Observation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	var out []hotspot.Observation
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 3 || len(rec) > 4 {
			return nil, fmt.Errorf("line %d: want 3 or 4 fields, got %d", line, len(rec))
		}
		lat, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: lat: %w", line, err)
		}
		lon, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: lon: %w", line, err)
		}
		density, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: density: %w", line, err)
		}
		o := hotspot.Observation{Location: geo.Point{Lat: lat, Lon: lon}, WasteDensity: density}
		if len(rec) == 4 && rec[3] != "" {
			ts, err := time.Parse(time.RFC3339, rec[3])
			if err != nil {
				return nil, fmt.Errorf("line %d: timestamp: %w", line, err)
			}
			o.Timestamp = ts
		}
		out = append(out, o)
	}
	return out, nil
}

func readFleet(path string) ([]opt.Vehicle, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ff fleetFile
	if err := yaml.Unmarshal(b, &ff); err != nil {
		return nil, fmt.Errorf("fleet %s: %w", path, err)
	}
	return ff.Vehicles, nil
}

func writeGeneration(w io.Writer, res hotspot.Result, format string) error {
	if format == "json" {
		return writeJSON(w, res)
	}
	_, err := fmt.Fprintf(w, "generation %s: %d hotspots, %d noise\n", res.GenerationID, len(res.Hotspots), res.NoiseCount)
	if err != nil {
		return err
	}
	for _, h := range res.Hotspots {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\tseverity=%.3f\tvolume=%.1fkg\tmembers=%d\n",
			h.ID, h.RiskLevel, h.Centroid, h.SeverityScore, h.EstimatedVolumeKg, h.MemberCount); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
