package env

import (
	"testing"
)

func TestLoadEnv(t *testing.T) {
	t.Setenv("DEOXY_DEVICE_ID", "bench")
	t.Setenv("SERIAL_BAUD", "9600")
	t.Setenv("DEOXY_DRY_RUN", "true")
	t.Setenv("RABBITMQ_URI", "")
	e, err := LoadEnv(nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.DeviceID != "bench" || e.Baud != 9600 || !e.DryRun {
		t.Fatalf("unexpected environment %+v", e)
	}
	if e.URI != "" || e.Exchange != "devices" {
		t.Fatalf("unexpected amqp settings %+v", e)
	}
}

func TestLoadEnvBadBaud(t *testing.T) {
	t.Setenv("SERIAL_BAUD", "fast")
	if _, err := LoadEnv(nil); err == nil {
		t.Fatal("expected error")
	}
}
