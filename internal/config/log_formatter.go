package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	colorRed         = 31
	colorGreen       = 32
	colorYellow      = 33
	colorBlue        = 36
	colorGray        = 37
	colorLightGreen  = 92
	colorLightYellow = 93
	colorCyan        = 96
)

// MbFormatter renders entries as a single key=value line. Fields are sorted so
// that lines for the same event always read the same way.
type MbFormatter struct {
	DisableColors bool
}

func (f *MbFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b strings.Builder

	f.pair(&b, "level", strings.ToUpper(entry.Level.String())[:4], levelColor(entry.Level))
	f.pair(&b, "ts", entry.Time.Format("2006-01-02 15:04:05.000"), colorLightYellow)
	if entry.HasCaller() {
		f.pair(&b, "source", fmt.Sprintf("%s:%d", entry.Caller.File, entry.Caller.Line), colorLightYellow)
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := renderValue(entry.Data[k])
		if s == "" {
			continue
		}
		f.pair(&b, k, s, valueColor(s))
	}
	f.pair(&b, "msg", strconv.Quote(entry.Message), colorLightGreen)

	line := strings.TrimPrefix(b.String(), " ")
	line = strings.ReplaceAll(line, "\r", "\\r")
	line = strings.ReplaceAll(line, "\n", "\\n")
	return []byte(line + "\n"), nil
}

func (f *MbFormatter) pair(b *strings.Builder, key, value string, color int) {
	if f.DisableColors {
		fmt.Fprintf(b, " %s=%s", key, value)
		return
	}
	fmt.Fprintf(b, " \x1b[%dm%s\x1b[0m=\x1b[%dm%s\x1b[0m", colorCyan, key, color, value)
}

func renderValue(val any) string {
	if err, ok := val.(error); ok {
		return strconv.Quote(err.Error())
	}
	m, err := json.Marshal(val)
	if err != nil {
		return ""
	}
	return string(m)
}

func levelColor(level log.Level) int {
	switch level {
	case log.DebugLevel, log.TraceLevel:
		return colorGray
	case log.WarnLevel:
		return colorYellow
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		return colorRed
	default:
		return colorBlue
	}
}

func valueColor(s string) int {
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return colorGreen
	}
	if strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") {
		return colorLightYellow
	}
	return colorCyan
}
