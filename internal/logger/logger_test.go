package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"go.viam.com/test"
)

func TestParseLevel(t *testing.T) {
	test.That(t, ParseLevel("debug"), test.ShouldEqual, zerolog.DebugLevel)
	test.That(t, ParseLevel("WARNING"), test.ShouldEqual, zerolog.WarnLevel)
	test.That(t, ParseLevel("error"), test.ShouldEqual, zerolog.ErrorLevel)
	test.That(t, ParseLevel(""), test.ShouldEqual, zerolog.InfoLevel)
	test.That(t, ParseLevel("loud"), test.ShouldEqual, zerolog.InfoLevel)
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })

	WithComponent("capture").Info().Int("fps", 10).Msg("started")

	var line map[string]any
	test.That(t, json.Unmarshal(buf.Bytes(), &line), test.ShouldBeNil)
	test.That(t, line["component"], test.ShouldEqual, "capture")
	test.That(t, line["message"], test.ShouldEqual, "started")
	test.That(t, line["fps"], test.ShouldEqual, 10.0)
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(prev)
		SetOutput(os.Stdout)
	})

	WithComponent("x").Info().Msg("hidden")
	test.That(t, buf.Len(), test.ShouldEqual, 0)
	WithComponent("x").Warn().Msg("shown")
	test.That(t, buf.String(), test.ShouldContainSubstring, "shown")
}
