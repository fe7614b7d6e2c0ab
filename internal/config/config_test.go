package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeFile(t, "flowpay.yaml", `
server:
  address: ":9000"
storage:
  driver: sqlite
genesis:
  admin: "0x000000000000000000000000000000000000ad01"
  settlement_asset: "0x000000000000000000000000000000000000a5dc"
  assets:
    - address: "0x000000000000000000000000000000000000a5dc"
      symbol: USDC
      decimals: 7
      balances:
        "0x00000000000000000000000000000000000c1e47": "1000000000"
  pools:
    - provider: "0x0000000000000000000000000000000000000f00"
      asset_a: "0x000000000000000000000000000000000000a5dc"
      amount_a: "100"
      asset_b: "0x0000000000000000000000000000000000000001"
      amount_b: "200"
oracle:
  chain_config: chains.yaml
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.Storage.DSN != filepath.Join(filepath.Dir(path), "data", "flowpay.db") {
		t.Fatalf("sqlite dsn default = %q", cfg.Storage.DSN)
	}
	if cfg.Events.Driver != "memory" || cfg.Auth.Mode != "signature" || cfg.Oracle.Driver != "ledger" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Oracle.ChainConfig != filepath.Join(filepath.Dir(path), "chains.yaml") {
		t.Fatalf("chain config not resolved: %q", cfg.Oracle.ChainConfig)
	}
	if len(cfg.Genesis.Assets) != 1 || cfg.Genesis.Assets[0].Decimals != 7 {
		t.Fatalf("assets = %+v", cfg.Genesis.Assets)
	}
	if got := cfg.Genesis.Assets[0].Balances["0x00000000000000000000000000000000000c1e47"]; got != "1000000000" {
		t.Fatalf("balance = %q", got)
	}
	if len(cfg.Genesis.Pools) != 1 || cfg.Genesis.Pools[0].AmountB != "200" {
		t.Fatalf("pools = %+v", cfg.Genesis.Pools)
	}
}

func TestLoadJSONWithEnvOverride(t *testing.T) {
	path := writeFile(t, "flowpay.json", `{"server":{"address":":8081"},"events":{"driver":"memory"}}`)
	t.Setenv("FLOWPAY_SERVER_ADDRESS", ":7070")
	t.Setenv("FLOWPAY_METRICS_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Fatalf("env override ignored: %q", cfg.Server.Address)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Address != ":9090" {
		t.Fatalf("metrics = %+v", cfg.Metrics)
	}
}

func TestLoadRejectsUnknownDrivers(t *testing.T) {
	cases := map[string]string{
		"storage":  `{"storage":{"driver":"cassandra"}}`,
		"mysql":    `{"storage":{"driver":"mysql"}}`,
		"events":   `{"events":{"driver":"kafka"}}`,
		"rabbitmq": `{"events":{"driver":"rabbitmq"}}`,
		"oracle":   `{"oracle":{"driver":"evm"}}`,
	}
	for name, body := range cases {
		if _, err := Load(writeFile(t, "c.json", body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidationErrorsNameMissingSetting(t *testing.T) {
	cases := map[string]struct{ body, want string }{
		"mysql":    {`{"storage":{"driver":"mysql"}}`, "存储驱动 mysql 需要配置 dsn"},
		"storage":  {`{"storage":{"driver":"cassandra"}}`, "未知的存储驱动: cassandra"},
		"rabbitmq": {`{"events":{"driver":"rabbitmq"}}`, "rabbitmq 事件驱动需要配置 url"},
		"oracle":   {`{"oracle":{"driver":"evm"}}`, "evm oracle 需要配置 chain_config"},
	}
	for name, tc := range cases {
		_, err := Load(writeFile(t, "c.json", tc.body))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected %q, got %v", name, tc.want, err)
		}
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
