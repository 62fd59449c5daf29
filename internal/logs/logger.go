package logs

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger: глобальный логгер приложения.
// До Init пишет в stderr на уровне info, чтобы пакеты и тесты могли логировать сразу.
var Logger = newDefault()

// Options: параметры инициализации логгера.
type Options struct {
	Level  string    // trace|debug|info|warning|error|fatal
	Format string    // text|json
	File   string    // путь/префикс лог-файла; если пусто: только stdout
	Output io.Writer // куда писать помимо файла; nil: stdout
}

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Init настраивает глобальный логгер по переданным опциям.
func Init(opts Options) error {
	l := logrus.New()
	l.SetLevel(ParseLevel(opts.Level))

	switch strings.ToLower(opts.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.File != "" {
		currentTime := time.Now().Format("2006-01-02_15-04-05")
		logFileName := fmt.Sprintf("%s_%s.log", opts.File, currentTime)
		file, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", logFileName, err)
		}
		l.SetOutput(io.MultiWriter(file, out))
	} else {
		l.SetOutput(out)
	}

	Logger = l
	return nil
}

func ParseLevel(s string) logrus.Level {
	switch strings.ToLower(s) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warning", "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// With: короткий доступ к записи с полями.
func With(fields logrus.Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

// Discard глушит вывод (для тестов и CLI-команд с машинным выводом).
func Discard() {
	Logger.SetOutput(io.Discard)
}
