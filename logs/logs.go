package logs

import (
	"flag"
	"log"
	"time"

	"github.com/golang/glog"
)

var logFlushFreq time.Duration

func init() {
	flag.DurationVar(&logFlushFreq, "log-flush-frequency", 5*time.Second, "Maximum number of seconds between log flushes")
}

// GlogWriter routes the standard library logger into glog.
type GlogWriter struct{}

func (writer GlogWriter) Write(data []byte) (n int, err error) {
	glog.Info(string(data))
	return len(data), nil
}

// InitLogs redirects the stdlib logger to glog and starts the periodic
// flush pump. Call once from main; pair with a deferred FlushLogs.
func InitLogs() {
	log.SetOutput(GlogWriter{})
	log.SetFlags(0)
	go func() {
		for range time.Tick(logFlushFreq) {
			glog.Flush()
		}
	}()
}

func FlushLogs() {
	glog.Flush()
}
