package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the daemon startup banner to stderr.
func PrintBanner(config *Config, logger *Logger, workspace string) {
	version := GetVersion()
	build := GetBuild()
	commit := GetGitCommit()

	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 70
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	art := []string{
		` 8888888b.  888     888 888b    888 8888888888 .d88888b.  8888888b.   .d8888b.  8888888888`,
		` 888   Y88b 888     888 8888b   888 888        d88P" "Y88b 888   Y88b d88P  Y88b 888`,
		` 888    888 888     888 88888b  888 888        888     888 888    888 888    888 888`,
		` 888   d88P 888     888 888Y88b 888 8888888    888     888 888   d88P 888        8888888`,
		` 8888888P"  888     888 888 Y88b888 888        888     888 8888888P"  888  88888 888`,
		` 888 T88b   888     888 888  Y88888 888        888     888 888 T88b   888    888 888`,
		` 888  T88b  Y88b. .d88P 888   Y8888 888        Y88b. .d88P 888  T88b  Y88b  d88P 888`,
		` 888   T88b  "Y88888P"  888    Y888 8888888888  "Y88888P"  888   T88b  "Y8888P88 8888888888`,
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "\n")
	for _, line := range art {
		fmt.Fprintf(os.Stderr, "%s%s%s\n", textColor, line, banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s  Workspace-Local ML Job Execution Engine%s\n", textColor, banner.ColorReset)
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "\n")

	kvPad := 18
	kvLines := [][2]string{
		{"Version", version},
		{"Build", build},
		{"Commit", commit},
		{"Environment", config.Environment},
		{"Workspace", workspace},
		{"Max Parallel", fmt.Sprintf("%d", config.Daemon.MaxParallel)},
		{"GPU Slots", fmt.Sprintf("%d", config.Daemon.GPUSlots)},
	}
	for _, kv := range kvLines {
		fmt.Fprintf(os.Stderr, "%s  %-*s %s%s\n", textColor, kvPad, kv[0], kv[1], banner.ColorReset)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "\n")

	logger.Info().
		Str("version", version).
		Str("build", build).
		Str("commit", commit).
		Str("environment", config.Environment).
		Str("workspace", workspace).
		Int("max_parallel", config.Daemon.MaxParallel).
		Int("gpu_slots", config.Daemon.GPUSlots).
		Msg("Daemon started")
}

// PrintShutdownBanner displays the daemon shutdown banner to stderr.
func PrintShutdownBanner(logger *Logger) {
	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 48
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "%s  RUNFORGE — SHUTTING DOWN%s\n", textColor, banner.ColorReset)
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "\n")

	logger.Info().Msg("Daemon shutting down")
}
