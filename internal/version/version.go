// Package version хранит сведения о сборке, заданные через -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Заполняются через -ldflags "-X github.com/vladislavdragonenkov/fulfillment/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build: сведения о сборке бинаря.
type Build struct {
	Version string
	Commit  string
	Date    string
}

func (b Build) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

var (
	currentOnce sync.Once
	current     Build
)

// Current возвращает сведения о сборке. Без -ldflags commit и дата берутся из VCS-меток go build.
func Current() Build {
	currentOnce.Do(func() {
		current = resolve(version, commit, date, debug.ReadBuildInfo)
	})
	return current
}

func resolve(v, c, d string, read func() (*debug.BuildInfo, bool)) Build {
	b := Build{Version: v, Commit: c, Date: d}
	info, ok := read()
	if !ok || info == nil {
		return b
	}
	for _, setting := range info.Settings {
		switch {
		case setting.Key == "vcs.revision" && b.Commit == "unknown":
			b.Commit = setting.Value
		case setting.Key == "vcs.time" && b.Date == "unknown":
			b.Date = setting.Value
		}
	}
	return b
}

// GetVersion возвращает только версию сборки.
func GetVersion() string { return Current().Version }

// String: version=... commit=... date=... для стартовых логов.
func String() string { return Current().String() }

// ClientID строит имя клиента для брокеров и исходящих HTTP-запросов: service/version.
func ClientID(service string) string {
	return service + "/" + Current().Version
}
