// Package wlog is weave's logging façade. It keeps the teacher's
// category/level shape (a global level plus an opt-in category allowlist,
// configurable from the environment) but emits through logrus instead of
// fmt.Printf, so structured fields (ingredient, key, revision) ride along
// instead of being interpolated into a string.
package wlog

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus's level ordering but keeps its own type so callers
// don't need to import logrus just to call SetLevel.
type Level int

const (
	LevelSilent Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

var logrusLevel = map[Level]logrus.Level{
	LevelError: logrus.ErrorLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelDebug: logrus.DebugLevel,
	LevelTrace: logrus.TraceLevel,
}

var (
	mu         sync.RWMutex
	current    = LevelSilent
	categories = make(map[string]bool)
	base       = logrus.New()
)

func init() {
	base.SetLevel(logrus.TraceLevel)
	if lvl := os.Getenv("WEAVE_LOG_LEVEL"); lvl != "" {
		SetLevel(parseLevel(lvl))
	}
	if cats := os.Getenv("WEAVE_LOG_CATEGORIES"); cats != "" {
		for _, c := range strings.Split(cats, ",") {
			c = strings.TrimSpace(strings.ToUpper(c))
			if c != "" {
				EnableCategory(c)
			}
		}
	}
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "error":
		return LevelError
	case "warn":
		return LevelWarn
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	case "trace":
		return LevelTrace
	default:
		return LevelSilent
	}
}

// SetLevel sets the process-wide minimum log level.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

// EnableCategory restricts logging to an allowlist of categories; once any
// category is enabled, categories not in the set are suppressed.
func EnableCategory(category string) {
	mu.Lock()
	defer mu.Unlock()
	categories[category] = true
}

// DisableCategory removes a category from the allowlist.
func DisableCategory(category string) {
	mu.Lock()
	defer mu.Unlock()
	delete(categories, category)
}

func shouldLog(l Level, category string) bool {
	mu.RLock()
	defer mu.RUnlock()
	if current == LevelSilent || l > current {
		return false
	}
	if len(categories) > 0 && category != "" {
		return categories[category]
	}
	return true
}

// Fields is a structured payload attached to a log line, e.g. ingredient
// index, key, revision.
type Fields = logrus.Fields

func emit(l Level, category string, fields Fields, format string, args ...interface{}) {
	if !shouldLog(l, category) {
		return
	}
	entry := base.WithField("category", category)
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Logf(logrusLevel[l], format, args...)
}

func Error(category string, fields Fields, format string, args ...interface{}) {
	emit(LevelError, category, fields, format, args...)
}

func Warn(category string, fields Fields, format string, args ...interface{}) {
	emit(LevelWarn, category, fields, format, args...)
}

func Info(category string, fields Fields, format string, args ...interface{}) {
	emit(LevelInfo, category, fields, format, args...)
}

func Debug(category string, fields Fields, format string, args ...interface{}) {
	emit(LevelDebug, category, fields, format, args...)
}

func Trace(category string, fields Fields, format string, args ...interface{}) {
	emit(LevelTrace, category, fields, format, args...)
}
