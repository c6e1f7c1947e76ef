package config

import "testing"

func TestLoadSingleAddress(t *testing.T) {
	cfg, err := Load([]byte(`
nodes:
  redis_0:
    address: localhost:63790
command_timeout: 3
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Nodes) != 1 {
		t.Fatalf("Nodes = %d, want 1", len(cfg.Nodes))
	}
	if cfg.Nodes["redis_0"].Address != "localhost:63790" {
		t.Errorf("Address = %q", cfg.Nodes["redis_0"].Address)
	}
	if cfg.CommandTimeout.Duration.Seconds() != 3 {
		t.Errorf("CommandTimeout = %v, want 3s", cfg.CommandTimeout.Duration)
	}
}

func TestLoadAlternateAddresses(t *testing.T) {
	cfg, err := Load([]byte(`
nodes:
  foo:
    addresses:
      - 10.0.0.1:6379
      - 10.0.0.2:6379
      - 10.0.0.3:6379
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Nodes["foo"].Addresses) != 3 {
		t.Fatalf("Addresses = %v", cfg.Nodes["foo"].Addresses)
	}
}

func TestLoadRequiresNodes(t *testing.T) {
	if _, err := Load([]byte(`tag: whatever`)); err == nil {
		t.Fatal("expected error for missing nodes")
	}
}

func TestLoadRequiresAddressOrAddresses(t *testing.T) {
	_, err := Load([]byte(`
nodes:
  broken: {}
`))
	if err == nil {
		t.Fatal("expected error for node without address/addresses")
	}
}

func TestDurationAcceptsIntAndString(t *testing.T) {
	cfg, err := Load([]byte(`
nodes:
  a: { address: "x:1" }
base_retry_interval: 10
retry_slop_secs: 2.5s
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseRetryInterval.Duration.Seconds() != 10 {
		t.Errorf("BaseRetryInterval = %v", cfg.BaseRetryInterval.Duration)
	}
	if cfg.RetrySlopSecs.Duration.Seconds() != 2.5 {
		t.Errorf("RetrySlopSecs = %v", cfg.RetrySlopSecs.Duration)
	}
}
