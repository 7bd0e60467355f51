package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Environment != "dev" || c.Server.HTTPPort != 8080 || c.Server.GRPCPort != 9091 {
		t.Errorf("server defaults = %+v", c.Server)
	}
	if c.Server.ShutdownTimeout != 15*time.Second || c.ClickHouse.DialTimeout != 10*time.Second {
		t.Errorf("duration defaults not applied: %+v", c)
	}
	if len(c.ClickHouse.Addr) != 1 || c.ClickHouse.Addr[0] != "localhost:9000" || c.ClickHouse.Enabled {
		t.Errorf("clickhouse defaults = %+v", c.ClickHouse)
	}
	if c.Arrow.BatchSize != 65536 || c.Monitoring.Namespace != "fade" {
		t.Errorf("nested defaults = %+v %+v", c.Arrow, c.Monitoring)
	}
}

func TestLoadFileKeepsExplicitValues(t *testing.T) {
	path := writeFile(t, `
environment: prod
server:
  http_port: 9000
engine:
  max_workers: 3
clickhouse:
  enabled: true
  database: md
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Environment != "prod" || c.Server.HTTPPort != 9000 || c.Server.GRPCPort != 9091 {
		t.Errorf("server = %+v", c.Server)
	}
	if c.Engine.MaxWorkers != 3 || c.ClickHouse.Database != "md" || c.ClickHouse.TradesTable != "fade_trades" {
		t.Errorf("config = %+v", c)
	}
}

func TestEnvOverrides(t *testing.T) {
	var c Config
	env := map[string]string{
		"FADE_HTTP_PORT":       "7070",
		"FADE_CLICKHOUSE_ADDR": "ch1:9000,ch2:9000",
		"FADE_LOG_LEVEL":       "debug",
	}
	err := c.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if err != nil {
		t.Fatal(err)
	}
	if c.Server.HTTPPort != 7070 || len(c.ClickHouse.Addr) != 2 || !c.ClickHouse.Enabled || c.LogLevel != "debug" {
		t.Fatalf("overrides = %+v", c)
	}

	env["FADE_GRPC_PORT"] = "abc"
	if err := c.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"environment": "environment: qa\n",
		"port":        "server:\n  http_port: 70000\n",
		"yaml":        "server: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
