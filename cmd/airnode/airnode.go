package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/emis-air/airnode/internal/acquire"
	"github.com/emis-air/airnode/internal/config"
	"github.com/emis-air/airnode/internal/db"
	"github.com/emis-air/airnode/internal/httputil"
	"github.com/emis-air/airnode/internal/i2c"
	"github.com/emis-air/airnode/internal/pms"
	"github.com/emis-air/airnode/internal/record"
	"github.com/emis-air/airnode/internal/sensors"
	"github.com/emis-air/airnode/internal/serialport"
	"github.com/emis-air/airnode/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Node configuration file (YAML)")
	rootDir     = flag.String("root", "", "Data root directory (overrides output.root)")
	policy      = flag.String("policy", "", "Writer policy: daily or window (overrides output.policy)")
	listen      = flag.String("listen", "", "Admin debug listen address (overrides admin.listen)")
	ledgerPath  = flag.String("ledger", "", "sqlite file ledger path (overrides ledger.path)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// overrides carries command-line values that replace config fields.
type overrides struct {
	root, policy, listen, ledger string
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("airnode %s\n", version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyOverrides(cfg, overrides{root: *rootDir, policy: *policy, listen: *listen, ledger: *ledgerPath})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	loc, err := cfg.GetLocation()
	if err != nil {
		log.Fatalf("%v", err)
	}
	nodeID := cfg.GetNodeID()

	var ledger *db.DB
	if cfg.Ledger.Path != "" {
		ledger, err = db.NewDB(cfg.Ledger.Path)
		if err != nil {
			log.Fatalf("failed to open ledger: %v", err)
		}
		defer ledger.Close()
		if err := ledger.StartSession(nodeID, version.String()); err != nil {
			log.Printf("ledger: %v", err)
		}
		log.Printf("ledger %s session %s", cfg.Ledger.Path, ledger.Session())
	}

	writer, err := newWriter(cfg, loc, ledgerHook(ledger, nodeID))
	if err != nil {
		log.Fatalf("failed to create writer: %v", err)
	}

	loop := acquire.NewLoop(acquire.Config{
		NodeID:   nodeID,
		Location: loc,
		Tick:     cfg.GetTick(),
		Env:      newEnvSource(cfg.Sensors.BME),
		PMS1:     newFrameSource(acquire.PMS1, cfg.Sensors.PMS1),
		PMS2:     newFrameSource(acquire.PMS2, cfg.Sensors.PMS2),
		Gas:      newGasSource(cfg.Sensors.SO2),
		Writer:   writer,
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Admin.Listen != "" {
		mux := http.NewServeMux()
		if err := attachAdminRoutes(mux, loop, ledger); err != nil {
			log.Fatalf("failed to attach admin routes: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveAdmin(ctx, cfg.Admin.Listen, mux)
		}()
	}

	log.Printf("node %s: %s policy, tick %v, zone %s", nodeID, cfg.Output.GetPolicy(), cfg.GetTick(), loc)
	runErr := loop.Run(ctx)
	stop()
	wg.Wait()

	if err := loop.Close(); err != nil {
		log.Printf("close: %v", err)
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		if ledger != nil {
			ledger.Close()
		}
		log.Fatalf("acquisition stopped: %v", runErr)
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads path. A missing file at the default path yields the
// built-in defaults.
func loadConfig(path string) (*config.NodeConfig, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == config.DefaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		log.Printf("%s not found, using defaults", path)
		return &config.NodeConfig{}, nil
	}
	return nil, err
}

func applyOverrides(cfg *config.NodeConfig, o overrides) {
	if o.root != "" {
		cfg.Output.Root = o.root
	}
	if o.policy != "" {
		cfg.Output.Policy = o.policy
	}
	if o.listen != "" {
		cfg.Admin.Listen = o.listen
	}
	if o.ledger != "" {
		cfg.Ledger.Path = o.ledger
	}
}

// newWriter builds the writer for the configured policy. Daily files live
// in <root>/data/daily, window files in <root>/data/<window>.
func newWriter(cfg *config.NodeConfig, loc *time.Location, onFile func(record.FileEvent)) (record.Writer, error) {
	opts := record.Options{
		NodeID:   cfg.GetNodeID(),
		Location: loc,
		Fsync:    cfg.Output.GetFsync(),
		OnFile:   onFile,
	}
	dataDir := filepath.Join(cfg.Output.GetRoot(), "data")

	if cfg.Output.GetPolicy() == config.PolicyDaily {
		opts.Dir = filepath.Join(dataDir, "daily")
		return record.NewDailyWriter(opts), nil
	}

	window := cfg.Output.GetWindow()
	opts.Dir = filepath.Join(dataDir, record.WindowDirName(window))
	if cfg.Output.GetWindowBasis() == config.BasisUTC {
		opts.Location = time.UTC
	}
	return record.NewWindowWriter(opts, window)
}

// ledgerHook records file events in the ledger. Ledger failures are logged;
// the CSV files remain the record.
func ledgerHook(ledger *db.DB, nodeID string) func(record.FileEvent) {
	return func(ev record.FileEvent) {
		log.Printf("%s %s (%d rows)", ev.Kind, ev.Path, ev.Rows)
		if ledger == nil {
			return
		}
		if err := ledger.RecordFile(nodeID, ev); err != nil {
			log.Printf("ledger: %v", err)
		}
	}
}

// newFrameSource returns nil (disabled) unless the channel is enabled with
// a port.
func newFrameSource(name string, c config.PMSConfig) acquire.FrameSource {
	if !c.Enabled {
		return nil
	}
	if c.Port == "" {
		log.Printf("%s: enabled but no port configured; disabled", name)
		return nil
	}
	opener := serialport.NewOpener(c.Port, serialport.PortOptions{BaudRate: c.BaudRate})
	log.Printf("%s: %s", name, c.Port)
	return pms.NewReader(name, opener, pms.ReaderOptions{Budget: c.GetReadBudget()})
}

func newEnvSource(c config.I2CConfig) sensors.EnvSource {
	if c.Enabled {
		log.Printf("bme: no driver built in for bus %d address 0x%02x; disabled",
			c.GetBus(), c.GetAddress(config.DefaultBMEAddress))
	}
	return nil
}

// newGasSource opens the SO2 sensor bus. An init failure disables the
// channel.
func newGasSource(c config.I2CConfig) sensors.GasSource {
	if !c.Enabled {
		return nil
	}
	if c.Address.Raw != "" && !c.Address.Set {
		log.Printf("so2: invalid address %q, using 0x%02x", c.Address.Raw, config.DefaultSO2Address)
	}
	bus, err := i2c.Open(c.GetBus())
	if err != nil {
		log.Printf("so2: init failed, disabled: %v", err)
		return nil
	}
	addr := c.GetAddress(config.DefaultSO2Address)
	log.Printf("so2: bus %d address 0x%02x", c.GetBus(), addr)
	return sensors.NewSO2Sensor(bus, addr)
}

// latestSource is the part of the loop the admin routes read.
type latestSource interface {
	Latest() record.Row
}

func attachAdminRoutes(mux *http.ServeMux, loop latestSource, ledger *db.DB) error {
	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.Version)
	debug.Handle("latest", "Last assembled row (JSON)", latestHandler(loop))
	if ledger != nil {
		return ledger.AttachAdminRoutes(mux)
	}
	return nil
}

func latestHandler(loop latestSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		row := loop.Latest()
		if row == nil {
			httputil.Unavailable(w, "no row yet")
			return
		}
		httputil.WriteJSONOK(w, row)
	})
}

func serveAdmin(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("admin server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("admin server force close error: %v", err)
		}
	}
	log.Printf("admin server stopped")
}
