// Command eisfitd fits equivalent circuits to impedance spectra, either
// for a single data file or as an HTTP service.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"

	"github.com/echemlab/eisfit/internal/processing"
	"github.com/echemlab/eisfit/pkg/config"
	"github.com/echemlab/eisfit/pkg/server"
)

func main() {
	cfg := config.DefaultConfig()
	srvCfg := config.DefaultServerConfig()

	flag.StringVar(&cfg.Circuit, "circuit", cfg.Circuit, "equivalent circuit, e.g. R0-p(R1,CPE1)")
	flag.StringVar(&cfg.File, "file", "", "spectrum file with freq, Re(Z), -Im(Z) columns")
	flag.Var(&cfg.InitialValues, "init", "initial parameter value as name=value (repeatable)")
	flag.Var(&cfg.Bounds, "bound", "parameter bounds as name=lower:upper (repeatable)")
	flag.Var(&cfg.Constants, "const", "parameter held constant during the fit (repeatable)")
	flag.Float64Var(&cfg.LowerFreq, "lowf", 0, "drop points at or below this frequency [Hz]")
	flag.Float64Var(&cfg.UpperFreq, "highf", 0, "drop points at or above this frequency [Hz], 0 means no limit")
	flag.BoolVar(&cfg.KeepNegRes, "keepneg", false, "keep points with non-positive Re(Z)")
	flag.IntVar(&cfg.Repeat, "repeat", cfg.Repeat, "number of fit rounds")
	flag.StringVar(&cfg.Output, "output", cfg.Output, "output column prefix")
	flag.BoolVar(&cfg.Quiet, "quiet", false, "suppress progress logging")
	flag.BoolVar(&cfg.HTTPServer, "http", false, "run as an HTTP service instead of fitting a file")

	flag.StringVar(&srvCfg.Port, "port", srvCfg.Port, "HTTP listen port")
	flag.IntVar(&srvCfg.WorkerCount, "workers", srvCfg.WorkerCount, "number of fit workers")
	flag.StringVar(&srvCfg.WebhookURL, "webhook", "", "URL receiving fit results")
	flag.BoolVar(&srvCfg.EnableMetrics, "metrics", srvCfg.EnableMetrics, "expose Prometheus metrics on /metrics")
	flag.BoolVar(&srvCfg.EnableProfiling, "pprof", false, "run the pprof side server")
	flag.StringVar(&srvCfg.ProfilingPort, "pprofport", srvCfg.ProfilingPort, "pprof listen port")
	flag.Parse()

	log.SetHandler(cli.Default)
	if cfg.Quiet {
		log.SetLevel(log.WarnLevel)
	}

	if cfg.HTTPServer {
		runServer(cfg, srvCfg)
		return
	}

	if cfg.File == "" {
		fmt.Fprintln(os.Stderr, "either -file or -http is required")
		flag.Usage()
		os.Exit(2)
	}
	if err := runFile(cfg); err != nil {
		log.WithError(err).Fatal("fit failed")
	}
}

func runServer(cfg *config.Config, srvCfg *config.ServerConfig) {
	srv := server.New(server.Options{Config: cfg, ServerConfig: srvCfg})

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-done
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown failed")
	}
}

func runFile(cfg *config.Config) error {
	freqs, impData, err := readSpectrum(cfg.File)
	if err != nil {
		return err
	}

	proc := processing.NewProcessor()
	report, err := proc.Process(freqs, impData, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("circuit: %s\n", report.Circuit)
	names := make([]string, 0, len(report.Values))
	for name := range report.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		q := report.Values[name]
		fmt.Printf("  %-8s %.6g %s\n", name, q.Value, q.Unit)
	}
	fmt.Printf("loss: %.6g over %d points\n", report.Loss, report.Points)
	return nil
}

// readSpectrum parses a whitespace or comma separated file with columns
// freq, Re(Z), -Im(Z). Lines starting with # are skipped, as is a leading
// non-numeric header row.
func readSpectrum(path string) ([]float64, [][2]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var freqs []float64
	var impData [][2]float64

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == ';'
		})
		if len(fields) < 3 {
			return nil, nil, fmt.Errorf("%s:%d: expected 3 columns, got %d", path, lineNo, len(fields))
		}
		freq, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			if len(freqs) == 0 {
				continue // header row
			}
			return nil, nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		re, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		im, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		freqs = append(freqs, freq)
		impData = append(impData, [2]float64{re, im})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if len(freqs) == 0 {
		return nil, nil, fmt.Errorf("%s: no data rows", path)
	}
	return freqs, impData, nil
}
