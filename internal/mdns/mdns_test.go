package mdns

import (
	"testing"
)

func TestNewAdvertiser(t *testing.T) {
	cfg := Config{
		Port: 7962,
		Name: "test-hub",
	}

	advertiser := NewAdvertiser(cfg)
	if advertiser == nil {
		t.Fatal("NewAdvertiser returned nil")
	}
	if advertiser.config.Port != 7962 {
		t.Errorf("expected port 7962, got %d", advertiser.config.Port)
	}
	if advertiser.config.Name != "test-hub" {
		t.Errorf("expected name test-hub, got %s", advertiser.config.Name)
	}
}

func TestAdvertiserIsRunning(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 7962})

	if advertiser.IsRunning() {
		t.Error("advertiser should not be running before Start()")
	}
}

func TestAdvertiserStopBeforeStart(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 7962})

	// Stop before start is a no-op.
	advertiser.Stop()

	if advertiser.IsRunning() {
		t.Error("advertiser should not be running after Stop()")
	}
}

func TestAdvertiserMultipleStops(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 7962})

	advertiser.Stop()
	advertiser.Stop()

	if advertiser.IsRunning() {
		t.Error("advertiser should not be running after repeated Stop()")
	}
}

func TestTXTCodecRoundTrip(t *testing.T) {
	records := encodeTXT("kitchen-laptop")

	name, version := decodeTXT(records)
	if name != "kitchen-laptop" {
		t.Errorf("decoded name %q, want %q", name, "kitchen-laptop")
	}
	if version != ProtocolVersion {
		t.Errorf("decoded version %q, want %q", version, ProtocolVersion)
	}
}

func TestDecodeTXTIgnoresJunk(t *testing.T) {
	name, version := decodeTXT([]string{
		"no-equals-sign",
		"color=blue",
		"name=hub-one",
		"",
	})
	if name != "hub-one" {
		t.Errorf("decoded name %q, want %q", name, "hub-one")
	}
	if version != "" {
		t.Errorf("decoded version %q from records that carry none", version)
	}
}

func TestAdvertiserStartStop(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 7962, Name: "start-stop-test"})

	// mDNS registration needs multicast; skip where the environment
	// forbids it rather than failing the suite.
	if err := advertiser.Start(); err != nil {
		t.Skipf("mdns unavailable in this environment: %v", err)
	}
	if !advertiser.IsRunning() {
		t.Error("advertiser should be running after Start()")
	}

	// Second Start is a no-op.
	if err := advertiser.Start(); err != nil {
		t.Errorf("second Start should be a no-op, got %v", err)
	}

	advertiser.Stop()
	if advertiser.IsRunning() {
		t.Error("advertiser should not be running after Stop()")
	}
}
