package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
)

// progressPrinter renders a single status line for a running scan.
type progressPrinter struct {
	out      io.Writer
	name     string
	started  time.Time
	mu       sync.Mutex
	progress scan.Progress
	errors   int
	updates  chan struct{}
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

func newProgressPrinter(out io.Writer, name string, total int) *progressPrinter {
	if total <= 0 {
		total = 1
	}
	return &progressPrinter{
		out:      out,
		name:     name,
		started:  time.Now(),
		progress: scan.Progress{Total: total, Stage: "queued"},
		updates:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

func (p *progressPrinter) Start() {
	go p.loop()
}

// Update records the latest scan snapshot.
func (p *progressPrinter) Update(s *scan.Scan) {
	p.mu.Lock()
	progress := s.Progress()
	if progress.Total > 0 {
		p.progress = progress
	}
	p.errors = len(s.Errors())
	p.mu.Unlock()

	select {
	case p.updates <- struct{}{}:
	default:
	}
}

func (p *progressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		<-p.exited
		fmt.Fprintf(p.out, "\r%s\r", strings.Repeat(" ", 100))
		p.print()
		fmt.Fprintln(p.out)
	})
}

func (p *progressPrinter) loop() {
	defer close(p.exited)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.updates:
			p.print()
		case <-ticker.C:
			p.print()
		case <-p.done:
			return
		}
	}
}

func (p *progressPrinter) print() {
	p.mu.Lock()
	progress := p.progress
	errs := p.errors
	p.mu.Unlock()

	line := fmt.Sprintf("\r[%s] Progress: %d/%d (%.1f%%) Stage:%s Errors:%d Elapsed:%.1fs",
		p.name, progress.Current, progress.Total, progress.Percent(), progress.Stage, errs,
		time.Since(p.started).Seconds())
	fmt.Fprint(p.out, line)
}
