package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rivo/tview"
)

type Level int

const (
	Info Level = iota
	Warn
	Error
	Fatal
)

type record struct {
	timestamp time.Time
	tag       string
	message   string
	level     Level
}

// Logger is a tagged view on the shared log pipeline. Writes go to the
// debug console in dev mode and to the log file when one is configured.
type Logger struct {
	view    *tview.TextView
	tag     string
	dev     bool
	logFile *os.File
	logChan chan record
}

var (
	logManager *Logger
	once       sync.Once
)

func InitLogger(dev bool, logPath string, view *tview.TextView) {
	once.Do(func() {
		logManager = &Logger{
			view:    view,
			dev:     dev,
			logChan: make(chan record, 100),
		}
		if logPath != "" {
			fileName := fmt.Sprintf("convo_%s.log", time.Now().Format("20060102_150405"))

			file, err := os.OpenFile(filepath.Join(logPath, fileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				log.Fatalf("Failed to open log file: %s", err)
			}
			logManager.logFile = file
		}

		go logManager.drain()
	})
}

func NewLogger(tag string) *Logger {
	return &Logger{
		view:    logManager.view,
		tag:     tag,
		dev:     logManager.dev,
		logFile: logManager.logFile,
		logChan: logManager.logChan,
	}
}

func (l *Logger) drain() {
	for rec := range l.logChan {
		line := fmt.Sprintf("%s [%s] %s: %s\n",
			rec.timestamp.Format("2006-01-02 15:04:05"), rec.tag, rec.level.String(), rec.message)
		if l.logFile != nil {
			l.logFile.WriteString(line)
		}
	}
}

func (l *Logger) log(level Level, v ...interface{}) {
	message := fmt.Sprint(v...)
	if l.dev {
		if l.view != nil {
			var color string
			switch level {
			case Info:
				color = "green"
			case Warn:
				color = "yellow"
			default:
				color = "red"
			}
			fmt.Fprintf(l.view, "[%s]%s (%s): %s[-]\n", color, level.String(), l.tag, message)
		} else {
			switch level {
			case Fatal:
				log.Fatal(v...)
			default:
				log.Println(v...)
			}
		}
	}

	if l.logFile != nil {
		l.logChan <- record{
			timestamp: time.Now(),
			tag:       l.tag,
			message:   message,
			level:     level,
		}
	}
}

func (l *Logger) Info(v ...interface{}) {
	l.log(Info, v...)
}

func (l *Logger) Warn(v ...interface{}) {
	l.log(Warn, v...)
}

func (l *Logger) Error(v ...interface{}) {
	l.log(Error, v...)
}

func (l *Logger) Fatal(v ...interface{}) {
	l.log(Fatal, v...)
	os.Exit(1)
}

func (l *Logger) Close() {
	close(l.logChan)
	if l.logFile != nil {
		l.logFile.Close()
	}
}

func (lv Level) String() string {
	switch lv {
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}
