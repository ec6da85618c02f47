package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/livescore/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.BatchInterval, convey.ShouldEqual, 60*time.Second)
			convey.So(cfg.RetryBackoff, convey.ShouldEqual, time.Second)
			convey.So(cfg.ReplayWindow, convey.ShouldEqual, 300*time.Second)
			convey.So(cfg.PushInterval, convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.MaxAttempts, convey.ShouldEqual, 5)
			convey.So(cfg.Windows(), convey.ShouldResemble, []int{15, 60})
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load()

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.LimitPerMinute, convey.ShouldEqual, 30)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("LIVESCORE_ADDR", ":8080")
			_ = os.Setenv("LIVESCORE_BATCH_INTERVAL", "15s")
			_ = os.Setenv("LIVESCORE_LIMIT_PER_MINUTE", "5")
			_ = os.Setenv("LIVESCORE_RATE_WINDOWS", "10,30")

			cfg, err := config.Load()

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.BatchInterval, convey.ShouldEqual, 15*time.Second)
				convey.So(cfg.LimitPerMinute, convey.ShouldEqual, 5)
				convey.So(cfg.Windows(), convey.ShouldResemble, []int{10, 30})
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			dir := t.TempDir()
			path := filepath.Join(dir, "livescore.yaml")
			body := strings.Join([]string{
				"addr: \":7000\"",
				"db_path: \"\"",
				"broker_enabled: true",
				"broker_url: nats://broker:4222",
				"push_interval: 10s",
				"push_heartbeat: 5s",
			}, "\n")
			convey.So(os.WriteFile(path, []byte(body), 0o600), convey.ShouldBeNil)
			_ = os.Setenv("LIVESCORE_CONFIG", path)
			_ = os.Setenv("LIVESCORE_ADDR", ":7001")

			cfg, err := config.Load()

			convey.Convey("Then file values apply and env wins over the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7001")
				convey.So(cfg.DBPath, convey.ShouldEqual, "")
				convey.So(cfg.BrokerEnabled, convey.ShouldBeTrue)
				convey.So(cfg.BrokerURL, convey.ShouldEqual, "nats://broker:4222")
				convey.So(cfg.PushInterval, convey.ShouldEqual, 10*time.Second)
			})
		})

		convey.Convey("When the YAML file does not exist", func() {
			_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When validation fails", func() {
			convey.Convey("Empty addr is rejected", func() {
				cfg := config.New()
				cfg.Addr = ""
				convey.So(errors.Is(cfg.Validate(), config.ErrEmptyAddr), convey.ShouldBeTrue)
			})

			convey.Convey("Unknown log level is rejected", func() {
				_ = os.Setenv("LIVESCORE_LOG_LEVEL", "loud")
				_, err := config.Load()
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})

			convey.Convey("Heartbeat longer than the push interval is rejected", func() {
				cfg := config.New()
				cfg.PushHeartbeat = time.Minute
				convey.So(errors.Is(cfg.Validate(), config.ErrHeartbeatTooLong), convey.ShouldBeTrue)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, config.EnvPrefix) {
			_ = os.Unsetenv(strings.SplitN(kv, "=", 2)[0])
		}
	}
}
