// Package prune clips oversized free text to a head and tail excerpt so a
// single pasted wall of text cannot flood team notifications.
package prune

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMarker   = "[truncated]"
	DefaultMaxBytes = 4 * 1024
	DefaultMaxLines = 60
)

// Config bounds the output. Head and tail budgets apply to the excerpts;
// MaxBytes and MaxLines bound the whole result.
type Config struct {
	MaxBytes  int
	MaxLines  int
	HeadBytes int
	TailBytes int
	HeadLines int
	TailLines int
	Marker    string
}

// TeamMessageConfig is the budget used for request details sent to the team.
func TeamMessageConfig() Config {
	return Config{
		MaxBytes:  DefaultMaxBytes,
		MaxLines:  DefaultMaxLines,
		HeadBytes: 3 * 1024,
		TailBytes: 512,
		HeadLines: 40,
		TailLines: 10,
	}
}

func Exceeds(s string, maxBytes, maxLines int) bool {
	return len(s) > maxBytes || CountLines(s) > maxLines
}

func CountLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// Clip returns s unchanged when it fits, otherwise a marker line naming
// label followed by the head and tail excerpts.
func Clip(s, label string, cfg Config) string {
	cfg = normalizeConfig(cfg)
	if s == "" || !Exceeds(s, cfg.MaxBytes, cfg.MaxLines) {
		return s
	}
	if cfg.HeadBytes <= 0 || cfg.HeadLines <= 0 {
		return fitBudget(fmt.Sprintf("%s %s omitted (%d bytes, %d lines)",
			cfg.Marker, label, len(s), CountLines(s)), cfg)
	}
	head := boundedPrefix(s, cfg.HeadBytes, cfg.HeadLines)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s shortened (%d bytes, %d lines)\n\n%s", cfg.Marker, label, len(s), CountLines(s), head)
	if cfg.TailBytes > 0 && cfg.TailLines > 0 {
		b.WriteString("\n…\n")
		b.WriteString(boundedSuffix(s, cfg.TailBytes, cfg.TailLines))
	}
	return fitBudget(b.String(), cfg)
}

func normalizeConfig(cfg Config) Config {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = DefaultMaxLines
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	cfg.HeadBytes = max(cfg.HeadBytes, 0)
	cfg.TailBytes = max(cfg.TailBytes, 0)
	cfg.HeadLines = max(cfg.HeadLines, 0)
	cfg.TailLines = max(cfg.TailLines, 0)
	return cfg
}

func fitBudget(s string, cfg Config) string {
	if !Exceeds(s, cfg.MaxBytes, cfg.MaxLines) {
		return s
	}
	if trimmed := boundedPrefix(s, cfg.MaxBytes, cfg.MaxLines); trimmed != "" {
		return trimmed
	}
	return cfg.Marker
}

func boundedPrefix(s string, maxBytes, maxLines int) string {
	if s == "" || maxBytes <= 0 || maxLines <= 0 {
		return ""
	}
	prefix := s
	if maxBytes < len(s) {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		prefix = s[:cut]
	}
	if lines := strings.Split(prefix, "\n"); len(lines) > maxLines {
		prefix = strings.Join(lines[:maxLines], "\n")
	}
	return prefix
}

func boundedSuffix(s string, maxBytes, maxLines int) string {
	if s == "" || maxBytes <= 0 || maxLines <= 0 {
		return ""
	}
	suffix := s
	if maxBytes < len(s) {
		start := len(s) - maxBytes
		for start < len(s) && !utf8.RuneStart(s[start]) {
			start++
		}
		suffix = s[start:]
	}
	if lines := strings.Split(suffix, "\n"); len(lines) > maxLines {
		suffix = strings.Join(lines[len(lines)-maxLines:], "\n")
	}
	return suffix
}
