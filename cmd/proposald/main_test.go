package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-proposal-backend/internal/broker"
	"github.com/tbourn/go-proposal-backend/internal/config"
)

// restoreGlobals undoes what initConfig does to package and logger state.
func restoreGlobals(t *testing.T) {
	t.Helper()
	prevLogger, prevLevel, prevCtx := log.Logger, zerolog.GlobalLevel(), zerolog.DefaultContextLogger
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
		zerolog.DefaultContextLogger = prevCtx
		envFile = ".env"
		cfg = config.Config{}
	})
}

func TestInitConfig_LoadsEnvFile(t *testing.T) {
	restoreGlobals(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("BROKER_DRIVER=memory\nSWEEP_INTERVAL=3s\nLOG_LEVEL=warn\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	// godotenv never overrides existing variables, so start from a clean slate.
	for _, k := range []string{"BROKER_DRIVER", "SWEEP_INTERVAL", "LOG_LEVEL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	envFile = path
	if err := initConfig(nil, nil); err != nil {
		t.Fatalf("initConfig: %v", err)
	}
	if cfg.Broker.Driver != "memory" || cfg.Pipeline.SweepInterval != 3*time.Second {
		t.Fatalf("env file not applied: %+v", cfg.Broker)
	}
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("log level not applied: %v", zerolog.GlobalLevel())
	}
}

func TestInitConfig_MissingEnvFileIsFine(t *testing.T) {
	restoreGlobals(t)
	t.Setenv("BROKER_DRIVER", "memory")
	envFile = filepath.Join(t.TempDir(), "absent.env")
	if err := initConfig(nil, nil); err != nil {
		t.Fatalf("initConfig: %v", err)
	}
}

func TestInitConfig_InvalidConfig(t *testing.T) {
	restoreGlobals(t)
	t.Setenv("BROKER_DRIVER", "kafka")
	envFile = ""
	if err := initConfig(nil, nil); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestNewSweeper_UsesPipelineConfig(t *testing.T) {
	c := config.Config{
		Broker:   config.BrokerConfig{PendingExchange: "p.ex"},
		Pipeline: config.PipelineConfig{SweepInterval: 7 * time.Second, HighIncomeThreshold: 500},
	}
	sw := newSweeper(nil, broker.NewMemory(), c)
	if sw.Exchange != "p.ex" || sw.Interval != 7*time.Second || sw.HighIncomeThreshold != 500 {
		t.Fatalf("unexpected sweeper: %+v", sw)
	}
}

func TestAppVersion(t *testing.T) {
	t.Setenv("APP_VERSION", "")
	if got := appVersion(); got != version {
		t.Fatalf("appVersion() = %q, want %q", got, version)
	}
	t.Setenv("APP_VERSION", "1.2.3")
	if got := appVersion(); got != "1.2.3" {
		t.Fatalf("appVersion() = %q", got)
	}
}
