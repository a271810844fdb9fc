package config

import (
	"os"
	"testing"

	"github.com/austin-dist/austin/pkg/errs"
)

func validConfig() Config {
	return Config{Command: "python3", IntervalUs: 100}
}

func TestValidateCommandLine(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid spawn", func(c *Config) {}, false},
		{"valid attach", func(c *Config) { c.Command = ""; c.Pid = 123 }, false},
		{"neither command nor pid", func(c *Config) { c.Command = "" }, true},
		{"both command and pid", func(c *Config) { c.Pid = 123 }, true},
		{"zero interval", func(c *Config) { c.IntervalUs = 0 }, true},
		{"negative exposure", func(c *Config) { c.ExposureSec = -1 }, true},
		{"negative attach timeout", func(c *Config) { c.AttachTimeoutMs = -1 }, true},
		{"memory and cpu together", func(c *Config) { c.Memory = true; c.CPU = true }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected an error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil {
				e, ok := errs.As(err)
				if !ok || e.Kind != errs.CommandLine {
					t.Fatalf("expected an errs.CommandLine error, got %v", err)
				}
			}
		})
	}
}

func TestLoadEnvDefaultsPageSizeCap(t *testing.T) {
	os.Unsetenv("AUSTIN_NO_LOGGING")
	os.Unsetenv("AUSTIN_PAGE_SIZE_CAP")

	var c Config
	c.LoadEnv()
	if c.PageSizeCap != defaultPageSizeCap {
		t.Fatalf("got page size cap %d, want default %d", c.PageSizeCap, defaultPageSizeCap)
	}
	if c.NoLogging {
		t.Fatalf("expected logging enabled by default")
	}
}

func TestLoadEnvHonoursOverrides(t *testing.T) {
	os.Setenv("AUSTIN_NO_LOGGING", "1")
	os.Setenv("AUSTIN_PAGE_SIZE_CAP", "8192")
	defer os.Unsetenv("AUSTIN_NO_LOGGING")
	defer os.Unsetenv("AUSTIN_PAGE_SIZE_CAP")

	var c Config
	c.LoadEnv()
	if !c.NoLogging {
		t.Fatalf("expected NoLogging true when AUSTIN_NO_LOGGING is set")
	}
	if c.PageSizeCap != 8192 {
		t.Fatalf("got page size cap %d, want 8192", c.PageSizeCap)
	}
}

func TestLoadEnvIgnoresMalformedPageSizeCap(t *testing.T) {
	os.Setenv("AUSTIN_PAGE_SIZE_CAP", "not-a-number")
	defer os.Unsetenv("AUSTIN_PAGE_SIZE_CAP")

	var c Config
	c.LoadEnv()
	if c.PageSizeCap != defaultPageSizeCap {
		t.Fatalf("got page size cap %d, want default %d on malformed input", c.PageSizeCap, defaultPageSizeCap)
	}
}
