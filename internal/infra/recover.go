package infra

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// GoRecoverable runs f and restarts it after a panic. maxPanics bounds the
// restarts; a negative value means unlimited. onGiveUp is called once the
// budget is spent.
func GoRecoverable(maxPanics int, id string, f func(), onGiveUp func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		entry := log.WithFields(log.Fields{"job": id, "at": identifyPanic()})
		entry.Errorf("job panicked: %v", r)
		if maxPanics == 0 {
			entry.Error("panic budget exhausted")
			if onGiveUp != nil {
				onGiveUp()
			}
			return
		}
		if maxPanics > 0 {
			maxPanics--
		}
		entry.WithField("left", maxPanics).Debug("restarting job")
		go GoRecoverable(maxPanics, id, f, onGiveUp)
	}()
	f()
}

func identifyPanic() string {
	var name, file string
	var line int
	var pc [16]uintptr

	n := runtime.Callers(4, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			break
		}
	}

	switch {
	case name != "":
		return fmt.Sprintf("%v:%v", name, line)
	case file != "":
		return fmt.Sprintf("%v:%v", file, line)
	}
	return "unknown"
}
