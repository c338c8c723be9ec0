package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"

	"multikobo/cmdbuf"
	"multikobo/session"
	"multikobo/spotter"
)

// runSummary is printed when a command exits.
type runSummary struct {
	Elapsed  time.Duration
	Decoder  cmdbuf.Stats
	Session  *session.Stats
	Spotter  *spotter.Stats
	Sessions int
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return durafmt.Parse(d.Round(time.Second)).LimitFirstN(2).String()
}

func (r runSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ran for %s\n", formatDuration(r.Elapsed))
	fmt.Fprintf(&b, "decoder: %s buffers, %s passes, %s records, %s invalid opcodes, %s truncated passes, %s frames\n",
		humanize.Comma(int64(r.Decoder.Buffers)),
		humanize.Comma(int64(r.Decoder.Passes)),
		humanize.Comma(int64(r.Decoder.Records)),
		humanize.Comma(int64(r.Decoder.InvalidOpcodes)),
		humanize.Comma(int64(r.Decoder.TruncatedPasses)),
		humanize.Comma(int64(r.Decoder.Frames)))
	if r.Session != nil {
		fmt.Fprintf(&b, "session: %s received in %s chunks, %s inputs sent, connected %s (%d sessions)\n",
			humanize.Bytes(r.Session.BytesIn),
			humanize.Comma(int64(r.Session.Chunks)),
			humanize.Comma(int64(r.Session.InputsSent)),
			formatDuration(r.Session.Uptime),
			r.Sessions)
	}
	if r.Spotter != nil {
		fmt.Fprintf(&b, "discovery: %s datagrams, %d hosts added, %d signed off, %d timed out\n",
			humanize.Comma(int64(r.Spotter.Datagrams)),
			r.Spotter.Added, r.Spotter.Removed, r.Spotter.Evicted)
	}
	return b.String()
}
