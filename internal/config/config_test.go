package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

func TestProcessDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Process(context.Background(), envconfig.MapLookuper(map[string]string{
		"MB_DOT_PATH": t.TempDir(),
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if cfg.Antispam.FloodLimit != 5 || cfg.Antispam.FloodWindow != time.Minute {
		t.Fatalf("unexpected flood defaults: %d %s", cfg.Antispam.FloodLimit, cfg.Antispam.FloodWindow)
	}
	if cfg.Antispam.DupWindow != 300*time.Second || cfg.Antispam.ShortWindow != 120*time.Second {
		t.Fatalf("unexpected window defaults: %s %s", cfg.Antispam.DupWindow, cfg.Antispam.ShortWindow)
	}
	if cfg.Escalation.BanDuration != time.Hour || cfg.Escalation.WarningThreshold != 3 {
		t.Fatalf("unexpected escalation defaults: %+v", cfg.Escalation)
	}
	if cfg.LLM.ConfidenceThreshold != 0.7 {
		t.Fatalf("unexpected confidence threshold: %v", cfg.LLM.ConfidenceThreshold)
	}
	if len(cfg.Trust.TrustedDomains) != 3 || cfg.Trust.TrustedDomains[0] != "t.me" {
		t.Fatalf("unexpected trusted domains: %v", cfg.Trust.TrustedDomains)
	}
	if cfg.Escalation.SweepInterval != 5*time.Minute {
		t.Fatalf("unexpected sweep interval: %s", cfg.Escalation.SweepInterval)
	}
}

func TestProcessOverridesAndValidation(t *testing.T) {
	t.Parallel()

	cfg, err := Process(context.Background(), envconfig.MapLookuper(map[string]string{
		"MB_DOT_PATH":             t.TempDir(),
		"MB_ADMIN_IDS":            "1,2,3",
		"MB_ANTISPAM_FLOOD_LIMIT": "7",
		"MB_BAN_DURATION":         "90m",
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(cfg.AdminIDs) != 3 || cfg.AdminIDs[2] != 3 {
		t.Fatalf("unexpected admin ids: %v", cfg.AdminIDs)
	}
	if cfg.Antispam.FloodLimit != 7 || cfg.Escalation.BanDuration != 90*time.Minute {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	_, err = Process(context.Background(), envconfig.MapLookuper(map[string]string{
		"MB_DOT_PATH":                      t.TempDir(),
		"MB_ANTISPAM_SIMILARITY_THRESHOLD": "1.5",
	}))
	if err == nil {
		t.Fatal("expected validation error for similarity threshold")
	}
}

func TestFormatterSortsFieldsWithoutColors(t *testing.T) {
	t.Parallel()

	entry := log.NewEntry(log.New())
	entry.Message = "hello"
	entry.Level = log.InfoLevel
	entry.Data = log.Fields{"b": 2, "a": "x"}

	out, err := (&MbFormatter{DisableColors: true}).Format(entry)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	line := string(out)
	want := `a="x" b=2 msg="hello"` + "\n"
	if len(line) < len(want) || line[len(line)-len(want):] != want {
		t.Fatalf("unexpected line: %q", line)
	}
}
