package render

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/kukipiyo/PiyoXAssistant/pkg/finance"
	"github.com/kukipiyo/PiyoXAssistant/pkg/weather"
)

type stubWeather struct {
	report *weather.Report
	err    error
	calls  int
}

func (s *stubWeather) Configured() bool { return true }

func (s *stubWeather) Current(ctx context.Context) (*weather.Report, error) {
	s.calls++
	return s.report, s.err
}

type stubFinance struct {
	quotes *finance.Quotes
	err    error
	calls  int
}

func (s *stubFinance) Configured() bool { return true }

func (s *stubFinance) Snapshot(ctx context.Context) (*finance.Quotes, error) {
	s.calls++
	return s.quotes, s.err
}

var testNow = time.Date(2026, 1, 14, 9, 5, 0, 0, time.UTC)

func testRenderer(w *stubWeather, f *stubFinance) *Renderer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewRenderer(w, f, logger, time.UTC).
		WithClock(func() time.Time { return testNow })
}

func TestRenderTimeVariables(t *testing.T) {
	w := &stubWeather{}
	f := &stubFinance{}
	r := testRenderer(w, f)

	out := r.Render(context.Background(), "It is {TIME} on {WEEKDAY}, {DATE}.")
	assert.Equal(t, "It is 09:05 on Wednesday, 2026/01/14.", out)
	assert.Zero(t, w.calls, "no weather variable, no weather call")
	assert.Zero(t, f.calls, "no finance variable, no finance call")
}

func TestRenderWeatherVariables(t *testing.T) {
	w := &stubWeather{report: &weather.Report{
		Description: "light rain",
		Temp:        "18°C",
		TempMax:     "21°C",
		Humidity:    "80%",
		City:        "Tokyo",
	}}
	r := testRenderer(w, &stubFinance{})

	out := r.Render(context.Background(), "{CITY}: {WEATHER}, {TEMP} (max {TEMP_MAX})")
	assert.Equal(t, "Tokyo: light rain, 18°C (max 21°C)", out)
	assert.Equal(t, 1, w.calls)
}

func TestRenderWeatherFailureUsesFallbacks(t *testing.T) {
	w := &stubWeather{err: errors.New("connection refused")}
	r := testRenderer(w, &stubFinance{})

	out := r.Render(context.Background(), "Today: {WEATHER}, {TEMP}")
	assert.Equal(t, "Today: clear, 25°C", out)
	assert.NotContains(t, out, "{", "no raw placeholder may survive")
}

func TestRenderConditionalDroppedOnFailure(t *testing.T) {
	w := &stubWeather{err: errors.New("timeout")}
	f := &stubFinance{quotes: &finance.Quotes{Nikkei: "39,120", UsdJpy: "149.80"}}
	r := testRenderer(w, f)

	out := r.Render(context.Background(),
		"Morning update.[ Weather: {WEATHER} {TEMP}.][ Nikkei at {NIKKEI}.]")
	assert.Equal(t, "Morning update. Nikkei at 39,120.", out)
}

func TestRenderConditionalKeptOnSuccess(t *testing.T) {
	w := &stubWeather{report: &weather.Report{Description: "sunny", Temp: "22°C"}}
	r := testRenderer(w, &stubFinance{})

	out := r.Render(context.Background(), "Hello![ It is {WEATHER} today.]")
	assert.Equal(t, "Hello! It is sunny today.", out)
}

func TestRenderFinanceVariables(t *testing.T) {
	f := &stubFinance{quotes: &finance.Quotes{
		Nikkei:     "39,120",
		Topix:      "2,801pt",
		UsdJpy:     "149.80",
		EurJpy:     "162.10",
		UpdateTime: "1/14 09:00",
	}}
	r := testRenderer(&stubWeather{}, f)

	out := r.Render(context.Background(), "Nikkei {NIKKEI} / USD {USDJPY} (as of {UPDATE_TIME})")
	assert.Equal(t, "Nikkei 39,120 / USD 149.80 (as of 1/14 09:00)", out)
}

func TestRenderBasic(t *testing.T) {
	w := &stubWeather{}
	f := &stubFinance{}
	r := testRenderer(w, f)

	out := r.RenderBasic("{DATE}[ {WEATHER}] {NIKKEI}")
	assert.Equal(t, "2026/01/14[ [weather]] [nikkei]", out,
		"conditional brackets stay as written in basic mode")
	assert.Zero(t, w.calls, "basic mode must not call providers")
	assert.Zero(t, f.calls)
}

func TestDryRun(t *testing.T) {
	r := testRenderer(&stubWeather{}, &stubFinance{})

	preview := r.DryRun(context.Background(), "Today is {DATE}")
	assert.Equal(t, "Today is {DATE}", preview.Original)
	assert.Equal(t, "Today is 2026/01/14", preview.Rendered)
	assert.True(t, preview.WithinLimit)
	assert.Equal(t, []string{"{DATE}"}, preview.UsedVariables["time"])
	assert.Empty(t, preview.UsedVariables["weather"])
}

func TestUsedVariables(t *testing.T) {
	used := UsedVariables("{NOW} {TEMP} {NIKKEI} {USDJPY}")
	assert.Equal(t, []string{"{NOW}"}, used["time"])
	assert.Equal(t, []string{"{TEMP}"}, used["weather"])
	assert.Equal(t, []string{"{NIKKEI}", "{USDJPY}"}, used["finance"])
}
