package config

import (
	"strings"
	"testing"

	"github.com/Mmx233/QTalk/call"
	"github.com/Mmx233/QTalk/media"
	"github.com/Mmx233/QTalk/protocol"
	"pgregory.net/rapid"
)

// Feature: consolidate-defaults, Property 1: Zero-value fields receive correct defaults
func TestZeroValueDefaultsApplication(t *testing.T) {
	client := &Client{}
	client.ApplyDefaults()

	if !strings.HasPrefix(client.Username, "guest-") {
		t.Errorf("expected generated guest username, got %q", client.Username)
	}
	if client.Server != "127.0.0.1:5050" {
		t.Errorf("expected default server, got %q", client.Server)
	}
	if client.Call.GracePeriod != call.DefaultGracePeriod {
		t.Errorf("expected GracePeriod=%v, got %v", call.DefaultGracePeriod, client.Call.GracePeriod)
	}
	if client.Call.VideoInterval != call.DefaultVideoInterval {
		t.Errorf("expected VideoInterval=%v, got %v", call.DefaultVideoInterval, client.Call.VideoInterval)
	}
	if client.Devices.Audio != media.AudioTone || client.Devices.Video != media.VideoPattern {
		t.Errorf("unexpected devices %+v", client.Devices)
	}
	if client.EventsBuffer != DefaultEventsBuffer {
		t.Errorf("expected EventsBuffer=%d, got %d", DefaultEventsBuffer, client.EventsBuffer)
	}
	if client.Reconnect.InitialDelay != DefaultReconnectDelay || client.Reconnect.MaxDelay != DefaultMaxReconnectDelay {
		t.Errorf("unexpected reconnect %+v", client.Reconnect)
	}
	if !client.Reconnect.IsEnabled() {
		t.Error("reconnect should default to enabled")
	}
	if client.Cipher.Suite != string(protocol.SuiteFernet) {
		t.Errorf("expected fernet suite, got %q", client.Cipher.Suite)
	}

	server := &Server{}
	server.ApplyDefaults()
	if server.Listen.Port != protocol.DefaultPort {
		t.Errorf("expected port %d, got %d", protocol.DefaultPort, server.Listen.Port)
	}
	if server.MaxFrameSize != protocol.DefaultMaxFrameSize {
		t.Errorf("expected frame cap %d, got %d", protocol.DefaultMaxFrameSize, server.MaxFrameSize)
	}

	cfg := Quic{}.GetConfig()
	if cfg.MaxIdleTimeout != DefaultMaxIdleTimeout {
		t.Errorf("expected MaxIdleTimeout=%v, got %v", DefaultMaxIdleTimeout, cfg.MaxIdleTimeout)
	}
}

// Feature: consolidate-defaults, Property 2: Explicit values are preserved
func TestExplicitValuesPreserved_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		username := rapid.StringMatching(`[a-z]{1,12}`).Draw(t, "username")
		buffer := rapid.IntRange(1, 4096).Draw(t, "buffer")
		port := rapid.IntRange(1, 65535).Draw(t, "port")

		client := &Client{Username: username, EventsBuffer: buffer}
		client.ApplyDefaults()
		if client.Username != username || client.EventsBuffer != buffer {
			t.Fatalf("explicit values overwritten: %q %d", client.Username, client.EventsBuffer)
		}

		server := &Server{Listen: Listen{IP: "::1", Port: port}}
		server.ApplyDefaults()
		if server.Listen.Port != port || server.Listen.IP != "::1" {
			t.Fatalf("explicit listen overwritten: %+v", server.Listen)
		}
	})
}

func TestGenerateUsername_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		name := GenerateUsername()
		if seen[name] {
			t.Fatalf("duplicate username %q", name)
		}
		seen[name] = true
	}
}
