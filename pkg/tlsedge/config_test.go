package tlsedge

import (
	"crypto/tls"
	"log"
	"testing"
	"time"

	"github.com/albertbausili/tlsedge/internal/tlstest"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Addr != ":8443" {
		t.Errorf("Expected default addr :8443, got %s", config.Addr)
	}
	if config.Engine != EngineEpoll {
		t.Errorf("Expected epoll engine by default, got %v", config.Engine)
	}
	if config.MaxConnections != 10000 {
		t.Errorf("Expected MaxConnections 10000, got %d", config.MaxConnections)
	}
	if config.ReadBufferSize != 64<<10 {
		t.Errorf("Expected ReadBufferSize 64KiB, got %d", config.ReadBufferSize)
	}
	if config.PollTimeout != 100*time.Millisecond {
		t.Errorf("Expected PollTimeout 100ms, got %v", config.PollTimeout)
	}
	if config.Logger == nil {
		t.Error("Expected default logger to be set")
	}
	if config.DisableKeepAlive {
		t.Error("Expected DisableKeepAlive to be false by default")
	}
}

func TestConfigValidate(t *testing.T) {
	serverTLS, _ := tlstest.Configs(t)
	tests := []struct {
		name     string
		config   Config
		validate func(*testing.T, Config)
	}{
		{
			name:   "empty addr gets default",
			config: Config{},
			validate: func(t *testing.T, c Config) {
				if c.Addr != ":8443" {
					t.Errorf("Expected addr :8443, got %s", c.Addr)
				}
			},
		},
		{
			name:   "small read buffer gets adjusted",
			config: Config{ReadBufferSize: 100},
			validate: func(t *testing.T, c Config) {
				if c.ReadBufferSize != MinReadBufferSize {
					t.Errorf("Expected ReadBufferSize %d, got %d", MinReadBufferSize, c.ReadBufferSize)
				}
			},
		},
		{
			name:   "large read buffer gets adjusted",
			config: Config{ReadBufferSize: 1 << 30},
			validate: func(t *testing.T, c Config) {
				if c.ReadBufferSize != MaxReadBufferSize {
					t.Errorf("Expected ReadBufferSize %d, got %d", MaxReadBufferSize, c.ReadBufferSize)
				}
			},
		},
		{
			name:   "tiny poll timeout gets adjusted",
			config: Config{PollTimeout: time.Microsecond},
			validate: func(t *testing.T, c Config) {
				if c.PollTimeout != time.Millisecond {
					t.Errorf("Expected PollTimeout 1ms, got %v", c.PollTimeout)
				}
			},
		},
		{
			name:   "negative counts are cleared",
			config: Config{Workers: -1, MaxConnections: -5, SocketSendBuffer: -1, SocketRecvBuffer: -1},
			validate: func(t *testing.T, c Config) {
				if c.Workers != 0 || c.MaxConnections != 0 || c.SocketSendBuffer != 0 || c.SocketRecvBuffer != 0 {
					t.Errorf("Expected zeroed counts, got %+v", c)
				}
			},
		},
		{
			name:   "nil logger gets default",
			config: Config{},
			validate: func(t *testing.T, c Config) {
				if c.Logger != log.Default() {
					t.Error("Expected the standard logger")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.TLSConfig = serverTLS
			if err := tt.config.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			tt.validate(t, tt.config)
		})
	}
}

func TestConfigValidateRejects(t *testing.T) {
	serverTLS, _ := tlstest.Configs(t)
	tests := []struct {
		name   string
		config Config
	}{
		{"no tls config", Config{}},
		{"no certificate", Config{TLSConfig: &tls.Config{}}},
		{"unknown engine", Config{TLSConfig: serverTLS, Engine: Engine(9)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); err == nil {
				t.Error("Expected Validate to fail")
			}
		})
	}
}

func TestParseEngine(t *testing.T) {
	tests := []struct {
		in      string
		want    Engine
		wantErr bool
	}{
		{"", EngineEpoll, false},
		{"epoll", EngineEpoll, false},
		{"gnet", EngineGnet, false},
		{"iouring", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseEngine(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEngine(%q): expected error %v, got %v", tt.in, tt.wantErr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEngine(%q): expected %v, got %v", tt.in, tt.want, got)
		}
		if !tt.wantErr && tt.in != "" && got.String() != tt.in {
			t.Errorf("Expected %v.String() to round-trip, got %q", got, got.String())
		}
	}
}
