package render

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kukipiyo/PiyoXAssistant/internal/constants"
	"github.com/kukipiyo/PiyoXAssistant/pkg/finance"
	"github.com/kukipiyo/PiyoXAssistant/pkg/weather"
)

// WeatherProvider supplies current conditions for template substitution.
type WeatherProvider interface {
	Configured() bool
	Current(ctx context.Context) (*weather.Report, error)
}

// FinanceProvider supplies market figures for template substitution.
type FinanceProvider interface {
	Configured() bool
	Snapshot(ctx context.Context) (*finance.Quotes, error)
}

var (
	conditionalBlockRe = regexp.MustCompile(`\[([^\]]*)\]`)
	placeholderRe      = regexp.MustCompile(`\{[A-Z_]+\}`)
)

var weatherVars = []string{
	"{WEATHER}", "{TEMP}", "{TEMP_MAX}", "{HUMIDITY}",
	"{WIND_SPEED}", "{PRESSURE}", "{CLOUDINESS}", "{CITY}",
}

var financeVars = []string{
	"{NIKKEI}", "{TOPIX}", "{DOW}", "{NASDAQ}", "{SP500}",
	"{USDJPY}", "{EURJPY}", "{UPDATE_TIME}",
}

var timeVars = []string{
	"{NOW}", "{DATE}", "{TIME}", "{YEAR}", "{MONTH}",
	"{DAY}", "{WEEKDAY}", "{HOUR}", "{MINUTE}",
}

// Values substituted when a provider was needed but could not deliver.
var weatherFallbacks = map[string]string{
	"{WEATHER}":    "clear",
	"{TEMP}":       "25°C",
	"{TEMP_MAX}":   "28°C",
	"{HUMIDITY}":   "60%",
	"{WIND_SPEED}": "2.0m/s",
	"{PRESSURE}":   "1013hPa",
	"{CLOUDINESS}": "20%",
	"{CITY}":       "Tokyo",
}

var financeFallbacks = map[string]string{
	"{NIKKEI}":      "38,750",
	"{TOPIX}":       "2,765pt",
	"{DOW}":         "42,800",
	"{NASDAQ}":      "19,200pt",
	"{SP500}":       "5,850pt",
	"{USDJPY}":      "151.50",
	"{EURJPY}":      "163.20",
	"{UPDATE_TIME}": "n/a",
}

// Labels substituted for provider variables in basic mode, where no
// external call is made at all.
var basicPlaceholders = map[string]string{
	"{WEATHER}":     "[weather]",
	"{TEMP}":        "[temp]",
	"{TEMP_MAX}":    "[max temp]",
	"{HUMIDITY}":    "[humidity]",
	"{WIND_SPEED}":  "[wind]",
	"{PRESSURE}":    "[pressure]",
	"{CLOUDINESS}":  "[clouds]",
	"{CITY}":        "[city]",
	"{NIKKEI}":      "[nikkei]",
	"{TOPIX}":       "[topix]",
	"{DOW}":         "[dow]",
	"{NASDAQ}":      "[nasdaq]",
	"{SP500}":       "[s&p 500]",
	"{USDJPY}":      "[usd/jpy]",
	"{EURJPY}":      "[eur/jpy]",
	"{UPDATE_TIME}": "[updated]",
}

// Renderer expands template variables and conditional blocks in message
// content before dispatch.
type Renderer struct {
	weather WeatherProvider
	finance FinanceProvider
	logger  *logrus.Logger
	loc     *time.Location
	now     func() time.Time
}

func NewRenderer(weatherProvider WeatherProvider, financeProvider FinanceProvider, logger *logrus.Logger, loc *time.Location) *Renderer {
	return &Renderer{
		weather: weatherProvider,
		finance: financeProvider,
		logger:  logger,
		loc:     loc,
		now:     time.Now,
	}
}

// WithClock overrides the wall clock. Test hook.
func (r *Renderer) WithClock(now func() time.Time) *Renderer {
	r.now = now
	return r
}

// Render produces the final post text: provider data is fetched only for
// the variable categories the content actually references, conditional
// [bracket] segments referencing an unavailable category are dropped, and
// any remaining reference to a failed category degrades to a fixed
// fallback value so no raw placeholder ever reaches the publishing API.
func (r *Renderer) Render(ctx context.Context, content string) string {
	now := r.now().In(r.loc)
	vars := r.timeValues(now)

	weatherOK := true
	if containsAny(content, weatherVars) {
		report, err := r.weather.Current(ctx)
		if err != nil {
			weatherOK = false
			r.logger.WithError(err).Warn("Weather lookup failed, using fallback values")
		} else {
			vars["{WEATHER}"] = report.Description
			vars["{TEMP}"] = report.Temp
			vars["{TEMP_MAX}"] = report.TempMax
			vars["{HUMIDITY}"] = report.Humidity
			vars["{WIND_SPEED}"] = report.WindSpeed
			vars["{PRESSURE}"] = report.Pressure
			vars["{CLOUDINESS}"] = report.Cloudiness
			vars["{CITY}"] = report.City
		}
	}

	financeOK := true
	if containsAny(content, financeVars) {
		quotes, err := r.finance.Snapshot(ctx)
		if err != nil {
			financeOK = false
			r.logger.WithError(err).Warn("Finance lookup failed, using fallback values")
		} else {
			vars["{NIKKEI}"] = quotes.Nikkei
			vars["{TOPIX}"] = quotes.Topix
			vars["{DOW}"] = quotes.Dow
			vars["{NASDAQ}"] = quotes.Nasdaq
			vars["{SP500}"] = quotes.SP500
			vars["{USDJPY}"] = quotes.UsdJpy
			vars["{EURJPY}"] = quotes.EurJpy
			vars["{UPDATE_TIME}"] = quotes.UpdateTime
		}
	}

	out := r.resolveConditionals(content, weatherOK, financeOK)
	out = substitute(out, vars)

	if !weatherOK {
		out = substitute(out, weatherFallbacks)
	}
	if !financeOK {
		out = substitute(out, financeFallbacks)
	}

	return out
}

// RenderBasic expands time variables only and marks provider variables
// with readable labels. Conditional [segments] are left exactly as
// written; basic mode never evaluates them. Used for previews when no
// API calls are wanted.
func (r *Renderer) RenderBasic(content string) string {
	now := r.now().In(r.loc)
	out := substitute(content, r.timeValues(now))
	return substitute(out, basicPlaceholders)
}

// Preview summarizes a dry run of Render for the editing surface.
type Preview struct {
	Original       string              `json:"original"`
	Rendered       string              `json:"rendered"`
	UsedVariables  map[string][]string `json:"usedVariables"`
	CharacterCount int                 `json:"characterCount"`
	WithinLimit    bool                `json:"withinLimit"`
	RenderedAt     time.Time           `json:"renderedAt"`
}

// DryRun renders content without dispatching and reports what a real
// dispatch would send.
func (r *Renderer) DryRun(ctx context.Context, content string) *Preview {
	rendered := r.Render(ctx, content)
	runes := len([]rune(rendered))
	return &Preview{
		Original:       content,
		Rendered:       rendered,
		UsedVariables:  UsedVariables(content),
		CharacterCount: runes,
		WithinLimit:    runes <= constants.MaxContentLength,
		RenderedAt:     r.now().In(r.loc),
	}
}

// UsedVariables lists the known placeholders appearing in content, split
// by category.
func UsedVariables(content string) map[string][]string {
	used := map[string][]string{
		"time":    filterPresent(content, timeVars),
		"weather": filterPresent(content, weatherVars),
		"finance": filterPresent(content, financeVars),
	}
	return used
}

// resolveConditionals unwraps each [bracket] segment, dropping it entirely
// when it references a variable category whose provider failed.
func (r *Renderer) resolveConditionals(content string, weatherOK, financeOK bool) string {
	return conditionalBlockRe.ReplaceAllStringFunc(content, func(match string) string {
		inner := match[1 : len(match)-1]
		refs := placeholderRe.FindAllString(inner, -1)
		for _, ref := range refs {
			if !weatherOK && contains(weatherVars, ref) {
				r.logger.WithField("segment", inner).Debug("Dropping conditional segment, weather unavailable")
				return ""
			}
			if !financeOK && contains(financeVars, ref) {
				r.logger.WithField("segment", inner).Debug("Dropping conditional segment, finance unavailable")
				return ""
			}
		}
		return inner
	})
}

func (r *Renderer) timeValues(now time.Time) map[string]string {
	return map[string]string{
		"{NOW}":     now.Format("2006/01/02 15:04"),
		"{DATE}":    now.Format("2006/01/02"),
		"{TIME}":    now.Format("15:04"),
		"{YEAR}":    now.Format("2006"),
		"{MONTH}":   now.Format("1"),
		"{DAY}":     now.Format("2"),
		"{WEEKDAY}": now.Weekday().String(),
		"{HOUR}":    now.Format("15"),
		"{MINUTE}":  now.Format("04"),
	}
}

func substitute(content string, vars map[string]string) string {
	for name, value := range vars {
		content = strings.ReplaceAll(content, name, value)
	}
	return content
}

func containsAny(content string, names []string) bool {
	for _, name := range names {
		if strings.Contains(content, name) {
			return true
		}
	}
	return false
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func filterPresent(content string, names []string) []string {
	var present []string
	for _, name := range names {
		if strings.Contains(content, name) {
			present = append(present, name)
		}
	}
	return present
}
