package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

// Probe drives a Monitor by periodically hitting a cheap health endpoint.
// Any 2xx-4xx answer proves the network path is up; transport errors and 5xx
// count as offline. It is one possible sensor; tests feed the Monitor directly.
type Probe struct {
	// HealthURL is the endpoint to check, e.g. "<base>/health".
	HealthURL string
	// Interval between checks. Zero means 15s.
	Interval time.Duration
	// Clock for the probe timer. Nil means the real clock.
	Clock clockwork.Clock

	Monitor *Monitor
	Logger  *slog.Logger

	httpClient *http.Client
	stop       chan struct{}
}

// Start launches the probe loop. The first check runs immediately so the
// Monitor settles before any component asks for the state.
func (p *Probe) Start() {
	if p.Interval == 0 {
		p.Interval = 15 * time.Second
	}
	if p.Clock == nil {
		p.Clock = clockwork.NewRealClock()
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	p.stop = make(chan struct{})

	go p.run()
}

// Stop terminates the probe loop. The Monitor keeps its last state.
func (p *Probe) Stop() {
	if p.stop != nil {
		close(p.stop)
	}
}

func (p *Probe) run() {
	p.check()
	for {
		select {
		case <-p.Clock.After(p.Interval):
			p.check()
		case <-p.stop:
			return
		}
	}
}

func (p *Probe) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.HealthURL, nil)
	if err != nil {
		p.Logger.Error("Invalid health URL", "url", p.HealthURL, "error", err)
		return
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if p.Monitor.IsOnline() {
			p.Logger.Warn("Connectivity lost", "error", err)
		}
		p.Monitor.Set(false)
		return
	}
	resp.Body.Close()

	up := resp.StatusCode < 500
	if up && !p.Monitor.IsOnline() {
		p.Logger.Info("Connectivity restored", "status", resp.StatusCode)
	}
	p.Monitor.Set(up)
}
