package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync/atomic"
)

var debug atomic.Bool

type entry struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Init points the logger at w (stdout when nil) and drops the default prefix.
func Init(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	log.SetOutput(w)
	log.SetFlags(0)
}

func SetDebug(on bool) {
	debug.Store(on)
}

func Debug(msg string, fields map[string]any) {
	if debug.Load() {
		write("DEBUG", msg, fields)
	}
}

func Info(msg string, fields map[string]any) {
	write("INFO", msg, fields)
}

func Warn(msg string, fields map[string]any) {
	write("WARN", msg, fields)
}

func Error(msg string, fields map[string]any) {
	write("ERROR", msg, fields)
}

func write(level, msg string, fields map[string]any) {
	for k, v := range fields {
		if err, ok := v.(error); ok {
			fields[k] = err.Error()
		}
	}
	line, err := json.Marshal(entry{Level: level, Msg: msg, Fields: fields})
	if err != nil {
		log.Printf(`{"level":%q,"msg":%q}`, level, msg)
		return
	}
	log.Print(string(line))
}
