package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bryanchriswhite/ColorChecker/internal/config"
	"github.com/spf13/viper"
	"go.viam.com/test"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigSetGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Cleanup(func() { cfgFile = "" })

	out, err := run(t, "config", "set", "Tolerance", "30", "--config", path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Tolerance = 30")

	out, err = run(t, "config", "get", "Tolerance", "--config", path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.TrimSpace(out), test.ShouldEqual, "30")

	_, err = run(t, "config", "set", "Width", "10", "--config", path)
	test.That(t, err, test.ShouldWrap, config.ErrReadOnly)

	_, err = run(t, "config", "set", "Port", "80", "--config", path)
	test.That(t, err, test.ShouldWrap, config.ErrInvalidValue)

	out, err = run(t, "config", "path", "--config", path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.TrimSpace(out), test.ShouldEqual, path)

	formatFlag = "json"
	t.Cleanup(func() { formatFlag = "yaml" })
	out, err = run(t, "config", "show", "--config", path, "--format", "json")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, `"Tolerance": 30`)
}

func TestApplyOverrides(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("http_port", 9191)
	viper.Set("log_level", "debug")
	viper.Set("source", "x11")

	cfg := config.Defaults()
	applyOverrides(cfg)
	test.That(t, cfg.HTTP.Port, test.ShouldEqual, 9191)
	test.That(t, cfg.Log.Level, test.ShouldEqual, "debug")
	test.That(t, cfg.Stream.Source, test.ShouldEqual, "x11")
	test.That(t, cfg.MQTT.Broker, test.ShouldEqual, "")
}
