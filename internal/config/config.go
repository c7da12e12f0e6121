// Package config parses the INI-style options file this module's
// frontend is configured from, and holds the in-memory defaults used
// when no file is supplied.
//
// Reference: aalhour/rockyardkv internal/options/file.go for the
// section-scanner / key=value-per-section parsing shape, adapted here
// from RocksDB's [Version]/[DBOptions]/[CFOptions] sections to a single
// flat [Zswap] section matching spec.md §6's tunable set.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Config holds the runtime-tunable knobs spec.md §6 exposes to the host.
type Config struct {
	Enabled        bool
	Compressor     string
	MaxPoolPercent int
	// MaxCompressionRatio is a fraction in (0, 1]: a page whose compressed
	// length exceeds original_len * MaxCompressionRatio is rejected as
	// too-big. A value of 0 disables the check.
	MaxCompressionRatio   float64
	MaxOutstandingFlushes int64
	TempPages             int
}

// Default returns the out-of-the-box configuration: enabled, lz4-aliased
// "lzo" as the default compressor (see compressor.DefaultName), a 20%
// pool ceiling, and the flush/scratch defaults used elsewhere in this
// module.
func Default() Config {
	return Config{
		Enabled:               true,
		Compressor:            "lzo",
		MaxPoolPercent:        20,
		MaxCompressionRatio:   0.8,
		MaxOutstandingFlushes: 64,
		TempPages:             16,
	}
}

// Load reads an INI-style options file from r, starting from Default()
// and overriding whichever keys are present under [Zswap]. Unknown
// sections are ignored rather than rejected, matching the teacher's own
// tolerance for unrecognized CFOptions blocks.
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	section := ""

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			continue
		}
		if section != "Zswap" {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		var err error
		switch key {
		case "enabled":
			cfg.Enabled, err = strconv.ParseBool(value)
		case "compressor":
			cfg.Compressor = value
		case "max_pool_percent":
			cfg.MaxPoolPercent, err = strconv.Atoi(value)
		case "max_compression_ratio":
			cfg.MaxCompressionRatio, err = strconv.ParseFloat(value, 64)
		case "max_outstanding_flushes":
			cfg.MaxOutstandingFlushes, err = strconv.ParseInt(value, 10, 64)
		case "temp_pages":
			cfg.TempPages, err = strconv.Atoi(value)
		}
		if err != nil {
			return Config{}, fmt.Errorf("config: parsing %q: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
