package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/gopacket/tcpassembly"

	"multikobo/cmdbuf"
	"multikobo/session"
)

// replayOptions controls how a captured session is decoded.
type replayOptions struct {
	Port     int
	Revision cmdbuf.Revision
	// Calls prints every Renderer call, not just a summary per chunk.
	Calls bool
}

// replayReport summarizes a capture.
type replayReport struct {
	Chunks    int
	Bytes     int
	Records   int
	Invalid   int
	Truncated int
	Inputs    int
}

// openCapture accepts pcapng and classic pcap files.
func openCapture(f *os.File) (*gopacket.PacketSource, error) {
	if ng, err := pcapgo.NewNgReader(f, pcapgo.NgReaderOptions{}); err == nil {
		return gopacket.NewPacketSource(ng, ng.LinkType()), nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		return nil, err
	}
	return gopacket.NewPacketSource(r, r.LinkType()), nil
}

// replayPCAP decodes the game traffic in a capture. Each reassembled
// server chunk goes through ReplaceBuffer and one decode pass, the same
// path a live session takes, so records split across segments are lost
// here exactly as they would be on screen.
func replayPCAP(path string, opts replayOptions, out io.Writer) (replayReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return replayReport{}, err
	}
	defer f.Close()
	source, err := openCapture(f)
	if err != nil {
		return replayReport{}, fmt.Errorf("read capture: %w", err)
	}

	r := &replayer{opts: opts, out: out}
	r.decoder, err = cmdbuf.New(cmdbuf.Config{
		Revision: opts.Revision,
		OnInvalidOpcode: func(e *cmdbuf.InvalidOpcodeError) {
			r.report.Invalid++
			if opts.Calls {
				fmt.Fprintf(out, "    %v\n", e)
			}
		},
	})
	if err != nil {
		return replayReport{}, err
	}

	server := layers.NewTCPPortEndpoint(layers.TCPPort(opts.Port))
	pool := tcpassembly.NewStreamPool(&pcapStreamFactory{r: r, server: server})
	assembler := tcpassembly.NewAssembler(pool)
	for {
		pkt, err := source.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return r.report, err
		}
		nl := pkt.NetworkLayer()
		if nl == nil {
			continue
		}
		tcp, ok := pkt.TransportLayer().(*layers.TCP)
		if !ok {
			continue
		}
		if tcp.SrcPort != layers.TCPPort(opts.Port) && tcp.DstPort != layers.TCPPort(opts.Port) {
			continue
		}
		assembler.AssembleWithTimestamp(nl.NetworkFlow(), tcp, pkt.Metadata().CaptureInfo.Timestamp)
	}
	assembler.FlushAll()
	return r.report, nil
}

type replayer struct {
	opts    replayOptions
	out     io.Writer
	decoder *cmdbuf.Decoder
	rec     cmdbuf.Recorder
	report  replayReport
}

func (r *replayer) serverChunk(p []byte) {
	r.report.Chunks++
	r.report.Bytes += len(p)
	r.decoder.ReplaceBuffer(append([]byte(nil), p...))
	logDebugPacket("replay", p)

	before := r.decoder.Stats()
	r.rec.Reset()
	truncated := r.decoder.Run(&r.rec)
	after := r.decoder.Stats()
	records := int(after.Records - before.Records)
	r.report.Records += records

	flag := ""
	if truncated {
		r.report.Truncated++
		flag = " truncated"
	}
	fmt.Fprintf(r.out, "chunk %d: %d bytes, %d records, %d calls%s\n",
		r.report.Chunks, len(p), records, len(r.rec.Calls), flag)
	if r.opts.Calls {
		for _, c := range r.rec.Calls {
			fmt.Fprintf(r.out, "    %v\n", c)
		}
	}
}

func (r *replayer) clientBytes(p []byte) {
	for _, b := range p {
		r.report.Inputs++
		dir, fire := session.DecodeInput(b)
		if r.opts.Calls {
			fmt.Fprintf(r.out, "input %#02x: %v fire=%v\n", b, dir, fire)
		}
	}
}

type pcapStreamFactory struct {
	r      *replayer
	server gopacket.Endpoint
}

func (f *pcapStreamFactory) New(_, transport gopacket.Flow) tcpassembly.Stream {
	return &pcapStream{r: f.r, fromServer: transport.Src() == f.server}
}

// pcapStream is one direction of a connection. The first three bytes each
// way are the handshake.
type pcapStream struct {
	r          *replayer
	fromServer bool
	handshake  int
}

func (s *pcapStream) Reassembled(rs []tcpassembly.Reassembly) {
	for _, ra := range rs {
		p := ra.Bytes
		if n := min(len(p), session.ReplyLen-s.handshake); n > 0 {
			s.handshake += n
			p = p[n:]
		}
		if len(p) == 0 {
			continue
		}
		if s.fromServer {
			s.r.serverChunk(p)
		} else {
			s.r.clientBytes(p)
		}
	}
}

func (s *pcapStream) ReassemblyComplete() {}

func (r replayReport) String() string {
	return fmt.Sprintf("%d chunks, %d bytes, %d records, %d invalid opcodes, %d truncated, %d inputs",
		r.Chunks, r.Bytes, r.Records, r.Invalid, r.Truncated, r.Inputs)
}
