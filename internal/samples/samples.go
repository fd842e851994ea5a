// Package samples holds the demonstration pages published by oouid.
package samples

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ooui-go/ooui/internal/dom"
	"github.com/ooui-go/ooui/internal/publish"
)

// SessionCounter reports live sessions for the status endpoint.
type SessionCounter interface {
	ActiveCount() int
	CountByPath() map[string]int
}

type Options struct {
	SysmonInterval time.Duration
	Sessions       SessionCounter
	// Sampler overrides the host sampler, mainly for tests.
	Sampler Sampler
}

type sample struct {
	path  string
	title string
	ctor  func() *dom.Element
}

// Publish registers every sample page plus an index at "/" and the status
// document at "/status.json". The system monitor polls until ctx is done.
func Publish(ctx context.Context, reg *publish.Registry, opts Options) *Monitor {
	sampler := opts.Sampler
	if sampler == nil {
		sampler = HostSampler()
	}
	mon := NewMonitor(sampler, opts.SysmonInterval)

	pages := []sample{
		{"/counter", "Counter", Counter},
		{"/echo", "Echo", Echo},
		{"/draw", "Draw", Draw},
		{"/sysmon", "System Monitor", mon.Page},
	}
	for _, p := range pages {
		reg.PublishElement(p.path, p.title, p.ctor)
		log.Info().Str("path", p.path).Msg("published sample")
	}

	reg.PublishData("/", indexPage(pages), "text/html; charset=utf-8")
	reg.PublishJSONFunc("/status.json", func() (any, error) {
		return mon.Status(opts.Sessions), nil
	})

	go mon.Run(ctx)
	return mon
}

func indexPage(pages []sample) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\" /><title>ooui samples</title></head><body>\n<ul>\n")
	for _, p := range pages {
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n", p.path, p.title)
	}
	b.WriteString("</ul>\n</body></html>\n")
	return []byte(b.String())
}
