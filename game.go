package main

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"slices"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.org/x/image/font/gofont/goregular"

	"multikobo/session"
	"multikobo/spotter"
)

const statusLifetime = 5 * time.Second

var status struct {
	sync.Mutex
	msg string
	at  time.Time
}

// statusMessage shows msg on the bottom line of the window for a few seconds.
func statusMessage(msg string) {
	status.Lock()
	status.msg = msg
	status.at = time.Now()
	status.Unlock()
}

func currentStatus(now time.Time) string {
	status.Lock()
	defer status.Unlock()
	if now.Sub(status.at) > statusLifetime {
		return ""
	}
	return status.msg
}

// hostList is the lobby's view of discovered servers, in discovery order.
type hostList struct {
	addrs []string
}

// apply folds one discovery event into the list. It reports whether the
// host was new.
func (h *hostList) apply(ev spotter.Event) bool {
	i := slices.Index(h.addrs, ev.Addr)
	switch ev.Kind {
	case spotter.HostAdded:
		if i >= 0 {
			return false
		}
		h.addrs = append(h.addrs, ev.Addr)
		return true
	case spotter.HostRemoved:
		if i >= 0 {
			h.addrs = slices.Delete(h.addrs, i, i+1)
		}
	}
	return false
}

func (h *hostList) first() (string, bool) {
	if len(h.addrs) == 0 {
		return "", false
	}
	return h.addrs[0], true
}

type Game struct {
	c    *client
	r    *screenRenderer
	face *text.GoTextFace

	hosts      hostList
	hostEvents <-chan spotter.Event
	// autoConnect joins the first server found. It is cleared after the
	// first session so a dropped connection returns to the lobby.
	autoConnect bool
	triedHost   bool
	dialing     bool
	dialed      chan error

	tick          int
	settingsDirty bool
	fatal         error
}

func newGame(c *client) *Game {
	g := &Game{
		c:           c,
		r:           newScreenRenderer(c.decoder.World()),
		face:        newOverlayFace(),
		autoConnect: true,
		dialed:      make(chan error, 1),
	}
	if c.listener != nil {
		g.hostEvents = c.listener.Events()
	}
	return g
}

func newOverlayFace() *text.GoTextFace {
	src, err := text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF))
	if err != nil {
		logError("load font: %v", err)
		return nil
	}
	return &text.GoTextFace{Source: src, Size: 12}
}

func (g *Game) Update() error {
	if g.fatal != nil {
		return g.fatal
	}
	if g.c.ctx.Err() != nil || inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF12) {
		g.c.gs.Fullscreen = !ebiten.IsFullscreen()
		ebiten.SetFullscreen(g.c.gs.Fullscreen)
		g.settingsDirty = true
	}

	g.pollHosts()
	if err := g.pollDial(); err != nil {
		g.fatal = err
		return err
	}

	if s := g.c.session(); s != nil {
		select {
		case <-g.c.decoder.Ready():
			logDebugPacket("recv", g.c.decoder.Buffer())
		default:
		}
		for _, ev := range pollInput() {
			if err := s.HandleKey(ev.Key, ev.Pressed); err != nil && !errors.Is(err, session.ErrStopped) {
				logWarn("%v", err)
			}
		}
		g.autoConnect = false
	} else if !g.dialing {
		g.maybeConnect()
	}
	g.tick++
	return nil
}

func (g *Game) pollHosts() {
	for g.hostEvents != nil {
		select {
		case ev, ok := <-g.hostEvents:
			if !ok {
				g.hostEvents = nil
				return
			}
			logInfo("host %s", ev)
			if g.hosts.apply(ev) {
				notifyHostAdded(g.c.gs, ev.Addr)
			}
		default:
			return
		}
	}
}

// pollDial collects the outcome of a pending connect. A failure to reach
// an explicitly configured host is fatal; a discovered host may be retried
// from the lobby.
func (g *Game) pollDial() error {
	if !g.dialing {
		return nil
	}
	select {
	case err := <-g.dialed:
		g.dialing = false
		if err == nil {
			return nil
		}
		if g.c.gs.Host != "" {
			return err
		}
		logError("%v", err)
		g.autoConnect = false
	default:
	}
	return nil
}

func (g *Game) maybeConnect() {
	var addr string
	switch {
	case g.c.gs.Host != "":
		if g.triedHost && !inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
			return
		}
		g.triedHost = true
		addr = g.c.gs.serverAddr(g.c.gs.Host)
	default:
		host, ok := g.hosts.first()
		if !ok || (!g.autoConnect && !inpututil.IsKeyJustPressed(ebiten.KeyEnter)) {
			return
		}
		addr = g.c.gs.serverAddr(host)
	}
	logInfo("connecting to %s", addr)
	g.dialing = true
	g.c.connect(addr, g.dialed)
}

func (g *Game) drawText(dst *ebiten.Image, msg string, x, y int, clr color.Color) {
	if g.face == nil {
		ebitenutil.DebugPrintAt(dst, msg, x, y)
		return
	}
	op := &text.DrawOptions{}
	op.GeoM.Translate(float64(x), float64(y))
	op.ColorScale.ScaleWithColor(clr)
	text.Draw(dst, msg, g.face, op)
}

var (
	textColor   = color.RGBA{0xd0, 0xd0, 0xd0, 0xff}
	dimColor    = color.RGBA{0x80, 0x80, 0x90, 0xff}
	statusColor = color.RGBA{0xff, 0xd0, 0x60, 0xff}
)

func (g *Game) Draw(screen *ebiten.Image) {
	if s := g.c.session(); s != nil {
		g.r.begin(screen)
		g.c.decoder.Run(g.r)
		g.drawText(screen, fmt.Sprintf("%s  %s", s.Addr(), s.Input().Direction()), 4, 2, dimColor)
	} else {
		g.drawLobby(screen)
	}
	if msg := currentStatus(time.Now()); msg != "" {
		g.drawText(screen, msg, 4, screenHeight-16, statusColor)
	}
}

func (g *Game) drawLobby(screen *ebiten.Image) {
	drawWaiting(screen, g.r, g.tick)
	y := 40
	line := func(msg string, clr color.Color) {
		g.drawText(screen, msg, 40, y, clr)
		y += 16
	}
	switch {
	case g.dialing:
		line("Connecting...", textColor)
	case g.c.gs.Host != "":
		line(fmt.Sprintf("Server %s. Press Enter to connect.", g.c.gs.serverAddr(g.c.gs.Host)), textColor)
	case len(g.hosts.addrs) == 0:
		line(fmt.Sprintf("Looking for servers on UDP port %d...", g.c.gs.DiscoveryPort), textColor)
	default:
		line("Servers found. Press Enter to join the first.", textColor)
		for _, h := range g.hosts.addrs {
			line("  "+h, dimColor)
		}
	}
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return screenWidth, screenHeight
}

// runGame opens the window and blocks until it closes. A fullscreen toggle
// is saved to dataDir.
func runGame(c *client, dataDir string) error {
	ebiten.SetWindowTitle("MultiKobo")
	ebiten.SetWindowSize(screenWidth*2, screenHeight*2)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(60)
	if c.gs.Fullscreen {
		ebiten.SetFullscreen(true)
	}

	g := newGame(c)
	err := ebiten.RunGame(g)
	if g.settingsDirty {
		if serr := saveSettings(dataDir, c.gs); serr != nil {
			logError("save settings: %v", serr)
		}
	}
	if errors.Is(err, ebiten.Termination) {
		return nil
	}
	return err
}
