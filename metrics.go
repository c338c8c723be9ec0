package main

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"multikobo/cmdbuf"
	"multikobo/session"
	"multikobo/spotter"
)

const metricsNamespace = "kobo"

// metricSources are read on every scrape. Any of them may be nil.
type metricSources struct {
	decoder  *cmdbuf.Decoder
	listener *spotter.Listener
	session  func() *session.Session
}

func (s metricSources) currentSession() *session.Session {
	if s.session == nil {
		return nil
	}
	return s.session()
}

// registerMetrics exposes the component counters on reg. Values are taken
// from each component's Stats, so nothing is counted twice.
func registerMetrics(reg prometheus.Registerer, src metricSources) {
	factory := promauto.With(reg)
	counter := func(subsystem, name, help string, fn func() float64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, fn)
	}
	gauge := func(subsystem, name, help string, fn func() float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, fn)
	}

	if d := src.decoder; d != nil {
		counter("decoder", "buffers_total", "Command buffers installed.", func() float64 { return float64(d.Stats().Buffers) })
		counter("decoder", "passes_total", "Decode passes run.", func() float64 { return float64(d.Stats().Passes) })
		counter("decoder", "records_total", "Records dispatched.", func() float64 { return float64(d.Stats().Records) })
		counter("decoder", "invalid_opcodes_total", "Unknown opcode bytes skipped.", func() float64 { return float64(d.Stats().InvalidOpcodes) })
		counter("decoder", "truncated_passes_total", "Passes that ended on a partial record.", func() float64 { return float64(d.Stats().TruncatedPasses) })
		counter("decoder", "frames_total", "FrameStart records seen.", func() float64 { return float64(d.Stats().Frames) })
	}
	if l := src.listener; l != nil {
		counter("discovery", "datagrams_total", "Beacon datagrams received.", func() float64 { return float64(l.Stats().Datagrams) })
		counter("discovery", "evictions_total", "Hosts dropped for going quiet.", func() float64 { return float64(l.Stats().Evicted) })
		gauge("discovery", "hosts", "Hosts currently known.", func() float64 { return float64(l.Stats().Hosts) })
	}
	if src.session != nil {
		sessionStat := func(fn func(session.Stats) uint64) func() float64 {
			return func() float64 {
				if s := src.currentSession(); s != nil {
					return float64(fn(s.Stats()))
				}
				return 0
			}
		}
		gauge("session", "bytes_received", "Bytes received on the current session.", sessionStat(func(s session.Stats) uint64 { return s.BytesIn }))
		gauge("session", "inputs_sent", "Input bytes sent on the current session.", sessionStat(func(s session.Stats) uint64 { return s.InputsSent }))
		gauge("session", "active", "1 while a session is active.", func() float64 {
			if s := src.currentSession(); s != nil && s.State() == session.Active {
				return 1
			}
			return 0
		})
	}
}

type hostJSON struct {
	Addr     string    `json:"addr"`
	LastSeen time.Time `json:"last_seen"`
	AgeMS    int64     `json:"age_ms"`
}

type sessionJSON struct {
	Addr    string         `json:"addr,omitempty"`
	State   string         `json:"state"`
	Input   string         `json:"input,omitempty"`
	Stats   *session.Stats `json:"stats,omitempty"`
	Decoder cmdbuf.Stats   `json:"decoder"`
	Offset  string         `json:"view_offset"`
}

// newDebugRouter serves /metrics, /hosts and /session.
func newDebugRouter(reg *prometheus.Registry, src metricSources) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Get("/hosts", func(w http.ResponseWriter, _ *http.Request) {
		out := []hostJSON{}
		if src.listener != nil {
			now := time.Now()
			for _, h := range src.listener.Hosts() {
				out = append(out, hostJSON{Addr: h.Addr, LastSeen: h.LastSeen, AgeMS: now.Sub(h.LastSeen).Milliseconds()})
			}
		}
		writeJSON(w, out)
	})

	r.Get("/session", func(w http.ResponseWriter, _ *http.Request) {
		out := sessionJSON{State: session.Stopped.String()}
		if d := src.decoder; d != nil {
			out.Decoder = d.Stats()
			out.Offset = d.LastViewOffset().String()
		}
		if s := src.currentSession(); s != nil {
			st := s.Stats()
			out.Addr = s.Addr()
			out.State = s.State().String()
			out.Input = s.Input().Direction().String()
			out.Stats = &st
		}
		writeJSON(w, out)
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logDebug("debug http: %v", err)
	}
}

// serveDebug runs the debug router on addr until done is closed.
func serveDebug(addr string, h http.Handler, done <-chan struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-done
		srv.Close()
	}()
	logInfo("debug server on http://%s", ln.Addr())
	if err := srv.Serve(ln); err != http.ErrServerClosed {
		return err
	}
	return nil
}
