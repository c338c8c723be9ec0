package main

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"multikobo/session"
)

// keyBindings maps keyboard keys to controls. Numpad corners hold two
// directions at once.
var keyBindings = map[ebiten.Key][]session.Key{
	ebiten.KeyW:           {session.KeyUp},
	ebiten.KeyArrowUp:     {session.KeyUp},
	ebiten.KeyNumpad8:     {session.KeyUp},
	ebiten.KeyS:           {session.KeyDown},
	ebiten.KeyArrowDown:   {session.KeyDown},
	ebiten.KeyNumpad2:     {session.KeyDown},
	ebiten.KeyA:           {session.KeyLeft},
	ebiten.KeyArrowLeft:   {session.KeyLeft},
	ebiten.KeyNumpad4:     {session.KeyLeft},
	ebiten.KeyD:           {session.KeyRight},
	ebiten.KeyArrowRight:  {session.KeyRight},
	ebiten.KeyNumpad6:     {session.KeyRight},
	ebiten.KeyNumpad7:     {session.KeyUp, session.KeyLeft},
	ebiten.KeyNumpad9:     {session.KeyUp, session.KeyRight},
	ebiten.KeyNumpad1:     {session.KeyDown, session.KeyLeft},
	ebiten.KeyNumpad3:     {session.KeyDown, session.KeyRight},
	ebiten.KeySpace:       {session.KeyFire},
	ebiten.KeyControlLeft: {session.KeyFire},
	ebiten.KeyNumpad0:     {session.KeyFire},
}

var padBindings = map[ebiten.StandardGamepadButton]session.Key{
	ebiten.StandardGamepadButtonLeftTop:     session.KeyUp,
	ebiten.StandardGamepadButtonLeftBottom:  session.KeyDown,
	ebiten.StandardGamepadButtonLeftLeft:    session.KeyLeft,
	ebiten.StandardGamepadButtonLeftRight:   session.KeyRight,
	ebiten.StandardGamepadButtonRightBottom: session.KeyFire,
}

type keyEvent struct {
	Key     session.Key
	Pressed bool
}

// translateKeys turns this tick's key transitions into control events.
// Releases are reported before presses so a key rolled from one direction
// to its opposite ends up held.
func translateKeys(pressed, released []ebiten.Key) []keyEvent {
	var out []keyEvent
	for _, k := range released {
		for _, c := range keyBindings[k] {
			out = append(out, keyEvent{Key: c, Pressed: false})
		}
	}
	for _, k := range pressed {
		for _, c := range keyBindings[k] {
			out = append(out, keyEvent{Key: c, Pressed: true})
		}
	}
	return out
}

var gamepadIDs []ebiten.GamepadID

// pollInput reads keyboard and gamepad transitions since the last tick.
func pollInput() []keyEvent {
	out := translateKeys(inpututil.AppendJustPressedKeys(nil), inpututil.AppendJustReleasedKeys(nil))
	gamepadIDs = ebiten.AppendGamepadIDs(gamepadIDs[:0])
	for _, id := range gamepadIDs {
		if !ebiten.IsStandardGamepadLayoutAvailable(id) {
			continue
		}
		for b, c := range padBindings {
			if inpututil.IsStandardGamepadButtonJustReleased(id, b) {
				out = append(out, keyEvent{Key: c, Pressed: false})
			}
			if inpututil.IsStandardGamepadButtonJustPressed(id, b) {
				out = append(out, keyEvent{Key: c, Pressed: true})
			}
		}
	}
	return out
}
