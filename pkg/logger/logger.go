// Package logger provides leveled, component-tagged logging for the
// whole process. The entry point configures it once; packages log
// through the CF ("component + fields") helpers.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var (
	mu    sync.Mutex
	level = INFO
	out   io.Writer = os.Stderr
	now             = time.Now
)

// SetLevel sets the minimum level that will be written.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput redirects log output, e.g. to a file under the workspace.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func DebugCF(component, msg string, fields map[string]interface{}) {
	write(DEBUG, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	write(INFO, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	write(WARN, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	write(ERROR, component, msg, fields)
}

func write(l Level, component, msg string, fields map[string]interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}

	var b strings.Builder
	b.WriteString(now().Format("2006-01-02 15:04:05"))
	b.WriteString(" ")
	b.WriteString(l.String())
	b.WriteString(" [")
	b.WriteString(component)
	b.WriteString("] ")
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteString("\n")

	io.WriteString(out, b.String())
}
