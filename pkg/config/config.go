// Package config holds the fitting and server configuration shared by the
// CLI and the HTTP service.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParamValues collects repeatable "name=value" flags into a parameter map.
type ParamValues map[string]float64

func (p *ParamValues) String() string {
	return fmt.Sprintf("%v", map[string]float64(*p))
}

func (p *ParamValues) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", name, err)
	}
	if *p == nil {
		*p = make(ParamValues)
	}
	(*p)[name] = val
	return nil
}

// ParamBounds collects repeatable "name=lower:upper" flags into a bound
// override map.
type ParamBounds map[string][2]float64

func (p *ParamBounds) String() string {
	return fmt.Sprintf("%v", map[string][2]float64(*p))
}

func (p *ParamBounds) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected name=lower:upper, got %q", s)
	}
	lo, hi, ok := strings.Cut(raw, ":")
	if !ok {
		return fmt.Errorf("expected name=lower:upper, got %q", s)
	}
	lower, err := strconv.ParseFloat(lo, 64)
	if err != nil {
		return fmt.Errorf("invalid lower bound for %s: %w", name, err)
	}
	upper, err := strconv.ParseFloat(hi, 64)
	if err != nil {
		return fmt.Errorf("invalid upper bound for %s: %w", name, err)
	}
	if *p == nil {
		*p = make(ParamBounds)
	}
	(*p)[name] = [2]float64{lower, upper}
	return nil
}

// StringList collects repeatable string flags.
type StringList []string

func (l *StringList) String() string { return strings.Join(*l, ",") }

func (l *StringList) Set(s string) error {
	*l = append(*l, s)
	return nil
}

// Config holds the fit settings applied to every processed spectrum.
type Config struct {
	Circuit       string
	File          string
	InitialValues ParamValues
	Bounds        ParamBounds
	Constants     StringList
	LowerFreq     float64
	UpperFreq     float64
	KeepNegRes    bool
	Repeat        int
	Output        string
	Quiet         bool
	HTTPServer    bool
}

// ServerConfig holds the HTTP service settings.
type ServerConfig struct {
	Port            string
	WorkerCount     int
	WebhookURL      string
	EnableMetrics   bool
	EnableProfiling bool
	ProfilingPort   string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Circuit: "R0-p(R1,C1)",
		Repeat:  1,
		Output:  "fit_circuit",
	}
}

// DefaultServerConfig returns server configuration with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:          "8080",
		WorkerCount:   5,
		EnableMetrics: true,
		ProfilingPort: "6060",
	}
}
