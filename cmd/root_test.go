package cmd

import (
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/spigell/jobbot/internal/filtering"
	"github.com/spigell/jobbot/internal/secrets"
)

func newTestViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindCredentialEnv(v)

	if yaml != "" {
		v.SetConfigType("yaml")
		if err := v.ReadConfig(strings.NewReader(yaml)); err != nil {
			t.Fatalf("reading config: %v", err)
		}
	}
	return v
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	if err := newTestViper(t, "").Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if cfg.Ranking.SemanticThreshold != 0.7 || cfg.Ranking.RatingThreshold != 6 || cfg.Ranking.MinimumSalary != 11000 {
		t.Fatalf("unexpected ranking defaults: %+v", cfg.Ranking)
	}
	if cfg.Normalize.MaxDescriptionLength != 1000 {
		t.Fatalf("unexpected description limit %d", cfg.Normalize.MaxDescriptionLength)
	}
	if cfg.Schedule.PollInterval != 30*time.Second || cfg.Schedule.Cooldown != time.Minute {
		t.Fatalf("unexpected schedule defaults: %+v", cfg.Schedule)
	}
	if len(cfg.Schedule.ScrapeTimes) != 3 || cfg.Schedule.ScrapeTimes[0] != "08:30" {
		t.Fatalf("unexpected scrape times: %v", cfg.Schedule.ScrapeTimes)
	}
	if cfg.Send.BatchSize != 50 || cfg.Cleanup.JobRetentionDays != 30 || cfg.Cleanup.LogRetentionDays != 14 {
		t.Fatalf("unexpected send/cleanup defaults: %+v %+v", cfg.Send, cfg.Cleanup)
	}
	if cfg.Sources.Adzuna == nil || cfg.Sources.Adzuna.DailyLimit != 25 {
		t.Fatalf("unexpected adzuna defaults: %+v", cfg.Sources.Adzuna)
	}
	if _, ok := cfg.Credentials["gemini-api-key"]; !ok {
		t.Fatalf("credential keys must be known to viper: %v", cfg.Credentials)
	}
}

func TestConfigFromYAMLAndEnv(t *testing.T) {
	t.Setenv("JOBBOT_RANKING_SEMANTIC_THRESHOLD", "0.55")
	t.Setenv("JOBBOT_GEMINI_API_KEY", "from-env")

	yaml := `
search:
  keywords: kitchen porter
  part-time-only: false
schedule:
  send-times: ["07:15"]
  cooldown: 2m
sources:
  html:
    board:
      enabled: true
      url: https://example.com/jobs?q={keywords}
      daily-limit: 10
      requests-per-minute: 12
      selectors:
        item: .job
        title: h2
        id-attr: data-id
ranking:
  red-flags: ["commission only"]
`
	var cfg Config
	if err := newTestViper(t, yaml).Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if cfg.Ranking.SemanticThreshold != 0.55 {
		t.Fatalf("env override ignored: %v", cfg.Ranking.SemanticThreshold)
	}
	if cfg.Credentials["gemini-api-key"].Value != "from-env" {
		t.Fatalf("short credential env ignored: %+v", cfg.Credentials["gemini-api-key"])
	}
	if cfg.Search.Keywords != "kitchen porter" || cfg.Search.PartTimeOnly {
		t.Fatalf("unexpected search: %+v", cfg.Search)
	}
	if len(cfg.Schedule.SendTimes) != 1 || cfg.Schedule.Cooldown != 2*time.Minute {
		t.Fatalf("unexpected schedule: %+v", cfg.Schedule)
	}

	board := cfg.Sources.HTML["board"]
	if board == nil || !board.Enabled || board.DailyLimit != 10 || board.RequestsPerMinute != 12 {
		t.Fatalf("unexpected html adapter config: %+v", board)
	}
	if board.Selectors.IDAttr != "data-id" || board.Selectors.Item != ".job" {
		t.Fatalf("unexpected selectors: %+v", board.Selectors)
	}

	_, fcfg := buildFilters(&cfg)
	if len(fcfg.RedFlags) != 1 || fcfg.PartTimeOnly {
		t.Fatalf("unexpected filter config: %+v", fcfg)
	}
}

func TestLoadProfile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "cv.txt")
	if err := os.WriteFile(file, []byte("  Barista with five years of experience\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := loadProfile(ScoringConfig{Profile: "inline", ProfileFile: file})
	if err != nil {
		t.Fatalf("loadProfile: %v", err)
	}
	if got != "Barista with five years of experience" {
		t.Fatalf("file must win over inline profile, got %q", got)
	}

	if _, err := loadProfile(ScoringConfig{ProfileFile: file + ".missing"}); err == nil {
		t.Fatal("expected error for missing profile file")
	}
}

func TestDescribeStatus(t *testing.T) {
	cases := []struct {
		status filtering.Status
		want   string
	}{
		{filtering.Status{Name: "semantic", Enabled: true, Details: map[string]string{"threshold": "0.70"}}, "enabled threshold=0.70"},
		{filtering.Status{Name: "red_flags", Enabled: false, Reason: "disabled in config"}, "disabled (disabled in config)"},
		{filtering.Status{Name: "part_time"}, "disabled"},
	}
	for _, tc := range cases {
		if got := describeStatus(tc.status); got != tc.want {
			t.Errorf("describeStatus(%s) = %q, want %q", tc.status.Name, got, tc.want)
		}
	}
}

func TestRedactedDropsCredentials(t *testing.T) {
	cfg := &Config{Credentials: map[string]secrets.Source{"gemini-api-key": {Value: "secret"}}}
	if redacted(cfg).Credentials != nil {
		t.Fatal("credentials must be dropped")
	}
	if cfg.Credentials == nil {
		t.Fatal("original config must be untouched")
	}
}

func TestVersionString(t *testing.T) {
	origVersion, origRead := version, readBuildInfo
	t.Cleanup(func() { version, readBuildInfo = origVersion, origRead })

	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main:     debug.Module{Version: "v1.2.0"},
			Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}},
		}, true
	}

	version = "unknown"
	if got := versionString(); got != "jobbot version: v1.2.0 (0123456)" {
		t.Fatalf("unexpected version %q", got)
	}

	version = "v2.0.0"
	if got := versionString(); got != "jobbot version: v2.0.0 (0123456)" {
		t.Fatalf("link-time version must win, got %q", got)
	}

	readBuildInfo = func() (*debug.BuildInfo, bool) { return nil, false }
	if got := versionString(); got != "jobbot version: v2.0.0" {
		t.Fatalf("unexpected version without build info %q", got)
	}
}
