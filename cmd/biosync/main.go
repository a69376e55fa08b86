package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/biosync/internal/db"
	"github.com/chmdznr/biosync/internal/logging"
	"github.com/chmdznr/biosync/internal/service"
	"github.com/chmdznr/biosync/internal/supervisor"
	"github.com/chmdznr/biosync/pkg/models"
	"github.com/chmdznr/biosync/pkg/version"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	apiKeyFlag := &cli.StringFlag{
		Name:    "api-key",
		Usage:   "API key authorizing sync and ingest",
		EnvVars: []string{"BIOSYNC_CLIENT_KEY"},
	}

	app := &cli.App{
		Name:                 "biosync",
		Usage:                "Sync exported biometric files from object storage into a time-series store",
		Version:              version.Version,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override logging.level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:  "sync",
				Usage: "Run one sync pass",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Ignore the sync cursor and reprocess the newest files",
					},
					apiKeyFlag,
				},
				Action: runSync,
			},
			{
				Name:  "readings",
				Usage: "Print the view of a category as JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "category",
						Usage:    "heart_rate, sleep, steps or stress",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "window",
						Usage: "Window size: hours for heart_rate and stress, days for sleep and steps",
						Value: 24,
					},
				},
				Action: showReadings,
			},
			{
				Name:   "status",
				Usage:  "Show sync state and data availability",
				Action: showStatus,
			},
			{
				Name:  "ingest",
				Usage: "Write readings from a JSON file directly into the store",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Usage:    "JSON file with one reading or an array of readings, - for stdin",
						Required: true,
					},
					apiKeyFlag,
				},
				Action: ingestFile,
			},
			{
				Name:   "serve",
				Usage:  "Sync on a schedule and expose metrics until interrupted",
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runSync(c *cli.Context) error {
	a, err := newApp(c, &barProgress{})
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	result, err := a.service.Sync(c.Context, c.String("api-key"), c.Bool("force"))
	printResult(result)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("Sync completed in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func printResult(r models.SyncResult) {
	fmt.Printf("\nReadings written:\n")
	for _, c := range models.Categories() {
		fmt.Printf("- %-10s %d\n", c, r.Get(c))
	}
	fmt.Printf("- %-10s %d\n", "total", r.Total())
}

func showReadings(c *cli.Context) error {
	a, err := newApp(c, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	view, err := a.service.Readings(c.Context, c.String("category"), c.Int("window"))
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// showStatus prints when the last pass committed, which categories hold
// data and their latest values
func showStatus(c *cli.Context) error {
	a, err := newApp(c, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.service.Status(c.Context)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	fmt.Printf("Storage: %s (%s)\n", a.cfg.Storage.Driver, a.cfg.Storage.Path)
	if a.cfg.RemoteConfigured() {
		fmt.Printf("Remote: %s/%s\n", a.cfg.Remote.Endpoint, a.cfg.Remote.Bucket)
	} else {
		fmt.Printf("Remote: not configured\n")
	}
	if status.LastSyncTime == nil {
		fmt.Printf("Last sync: never\n")
	} else {
		fmt.Printf("Last sync: %s (pass %d)\n", status.LastSyncTime.Format(time.RFC3339), status.CursorVersion)
	}

	folders := a.cfg.Folders.Map()
	for _, cat := range models.Categories() {
		folder := folders[cat]
		if folder == "" {
			folder = "-"
		}
		if !status.Available[cat] {
			fmt.Printf("%-10s folder %-12s no data\n", cat, folder)
			continue
		}
		v := status.Latest[cat]
		fmt.Printf("%-10s folder %-12s latest %g %s at %s\n", cat, folder, v.Value, v.Unit, v.Timestamp)
	}

	if sqlite, ok := a.backend.(*db.DB); ok {
		live, expired, err := sqlite.Stats(c.Context)
		if err != nil {
			return err
		}
		fmt.Printf("Keys: %d live, %d expired awaiting sweep\n", live, expired)
	}
	return nil
}

func ingestFile(c *cli.Context) error {
	a, err := newApp(c, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	var payload []byte
	if path := c.String("file"); path == "-" {
		payload, err = io.ReadAll(os.Stdin)
	} else {
		payload, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("error reading payload: %w", err)
	}

	n, err := a.service.Ingest(c.Context, c.String("api-key"), payload)
	var reqErr *service.RequestError
	if errors.As(err, &reqErr) {
		sort.SliceStable(reqErr.Problems, func(i, j int) bool { return reqErr.Problems[i].Field < reqErr.Problems[j].Field })
		for _, p := range reqErr.Problems {
			fmt.Printf("- %s: %s\n", p.Field, p.Message)
		}
		return fmt.Errorf("payload rejected with %d problem(s)", len(reqErr.Problems))
	}
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %d reading(s)\n", n)
	return nil
}

func serve(c *cli.Context) error {
	a, err := newApp(c, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddWorker(supervisor.NewPeriodic("sync", a.cfg.Sync.Interval, func(ctx context.Context) error {
		_, err := a.coordinator.Sync(ctx, false)
		return err
	}))
	tree.AddWorker(supervisor.NewPeriodic("sweep", a.cfg.Sync.SweepInterval, func(ctx context.Context) error {
		n, err := a.store.Sweep(ctx)
		if err == nil && n > 0 {
			logging.Info().Int("removed", n).Msg("Store sweep finished")
		}
		return err
	}))

	server := &http.Server{
		Addr: a.cfg.Server.Listen,
		Handler: supervisor.NewRouter(func(ctx context.Context) error {
			_, err := a.store.Cursor(ctx)
			return err
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPI(supervisor.NewHTTPService(server, 10*time.Second))

	logging.Info().
		Str("listen", a.cfg.Server.Listen).
		Dur("sync_interval", a.cfg.Sync.Interval).
		Str("version", version.String()).
		Msg("Serving")

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
