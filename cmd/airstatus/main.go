// Command airstatus prints each sensor's state from the newest daily CSV.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/emis-air/airnode/internal/config"
	"github.com/emis-air/airnode/internal/status"
	"github.com/emis-air/airnode/internal/timeutil"
)

// ANSI styling
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	green  = "\033[32m"
	yellow = "\033[33m"
	red    = "\033[31m"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Node configuration file (YAML)")
	rootDir    = flag.String("root", "", "Data root directory (overrides output.root)")
	noColour   = flag.Bool("no-colour", false, "Disable ANSI colours")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if *configPath != config.DefaultConfigPath || !errors.Is(err, fs.ErrNotExist) {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = &config.NodeConfig{}
	}
	if *rootDir != "" {
		cfg.Output.Root = *rootDir
	}
	loc, err := cfg.GetLocation()
	if err != nil {
		log.Fatalf("%v", err)
	}

	dir := filepath.Join(cfg.Output.GetRoot(), "data", "daily")
	summary, err := status.Check(dir, cfg.GetNodeID(), timeutil.LocalDate(time.Now(), loc))
	if err != nil {
		log.Fatalf("status check failed: %v", err)
	}
	printSummary(os.Stdout, summary, !*noColour)
}

func paint(colour bool, code, text string) string {
	if !colour {
		return text
	}
	return bold + code + text + reset
}

func levelColour(l status.Level) string {
	switch l {
	case status.Good:
		return green
	case status.Warn:
		return yellow
	default:
		return red
	}
}

func printSummary(w io.Writer, s status.Summary, colour bool) {
	if s.File == "" {
		fmt.Fprintln(w, "Sensor Status:")
	} else {
		fmt.Fprintf(w, "Sensor Status (file: %s)\n", filepath.Base(s.File))
	}
	if s.Note != "" {
		code := yellow
		if s.File == "" {
			code = red
		}
		fmt.Fprintf(w, "  %s\n", paint(colour, code, s.Note))
		return
	}
	for _, ss := range s.Sensors {
		fmt.Fprintf(w, "  %s\n", paint(colour, levelColour(ss.Level), ss.String()))
	}
}
