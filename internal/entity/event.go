package entity

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/keydeck/internal/script"
)

// Event kinds by holder. Keys carry press, longpress and release plus
// start/end; pages and decks carry start/end only.
const (
	EventPress     = "press"
	EventLongpress = "longpress"
	EventRelease   = "release"
	EventStart     = "start"
	EventEnd       = "end"
)

// DefaultLongpressDelay applies when an ON_LONGPRESS file carries no
// duration-min argument.
const DefaultLongpressDelay = 300 * time.Millisecond

// Event is one version of a trigger attached to a deck, page or key.
// Its active version fires when the trigger condition occurs: press,
// longpress and release from physical input, start and end from the
// holder being rendered and unrendered.
//
// The fired action comes from the arguments: page=<ref> issues a
// navigation request, brightness=<level|+n|-n> adjusts the device,
// run=<cmd> executes an external command, and otherwise the backing
// file itself runs (as Lua when it ends in .lua, as a shell command
// otherwise). every=<ms> re-fires the action while the trigger holds.
type Event struct {
	base
	deck  *Deck
	owner varSource
	kind  string

	repeatStop chan struct{}
}

func newEvent(deck *Deck, owner varSource, path string, parsed *ParsedName, mtime time.Time) *Event {
	return &Event{
		base:  newBase(path, parsed, mtime),
		deck:  deck,
		owner: owner,
		kind:  parsed.Event,
	}
}

// EventKind returns the trigger kind, lowercased.
func (e *Event) EventKind() string { return e.kind }

// LongpressDelay returns the duration-min argument, or the default.
func (e *Event) LongpressDelay() time.Duration {
	if v, ok := e.args["duration-min"]; ok {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return DefaultLongpressDelay
}

// repeatEvery returns the every= interval, or zero when absent.
func (e *Event) repeatEvery() time.Duration {
	if v, ok := e.args["every"]; ok {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return 0
}

// Fire triggers the event's action once and starts the repeat cycle
// when every= is set. Must be called from the reconciliation loop.
func (e *Event) Fire() {
	e.fireOnce()
	if every := e.repeatEvery(); every > 0 && e.repeatStop == nil {
		e.startRepeat(every)
	}
}

// Stop ends a running repeat cycle. Safe to call when none is running.
func (e *Event) Stop() {
	if e.repeatStop != nil {
		close(e.repeatStop)
		e.repeatStop = nil
	}
}

func (e *Event) fireOnce() {
	rt := e.deck.rt
	if target, ok := e.args["page"]; ok {
		rt.Log.Debug("event %s: navigate to %s", e.path, target)
		e.deck.Navigate(target)
		return
	}
	if level, ok := e.args["brightness"]; ok {
		e.deck.AdjustBrightness(level)
		return
	}

	action := e.action()
	// Script execution happens off-loop so long commands cannot stall
	// reconciliation.
	go func() {
		if err := rt.Scripts.Run(context.Background(), action); err != nil {
			rt.Log.Warn("event %s: %v", e.path, err)
		}
	}()
}

func (e *Event) action() script.Action {
	action := script.Action{
		Dir:      e.deck.dir,
		Env:      e.Vars(),
		Detached: e.args["detach"] == "true",
	}
	if cmd, ok := e.args["run"]; ok {
		action.Command = cmd
	} else if strings.HasSuffix(e.path, ".lua") {
		action.LuaPath = e.path
	} else {
		action.Command = e.path
	}
	return action
}

// startRepeat re-fires the action every interval until stopped. Ticks
// route back through the loop so the graph is never touched from the
// timer goroutine.
func (e *Event) startRepeat(every time.Duration) {
	stop := make(chan struct{})
	e.repeatStop = stop
	rt := e.deck.rt
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rt.submit(func() {
					if e.repeatStop == stop {
						e.fireOnce()
					}
				})
			}
		}
	}()
}

func (e *Event) Vars() map[string]string {
	return mergeVars(e.owner.Vars(), map[string]string{
		"event":      e.kind,
		"event_name": e.DisplayName(),
		"event_path": e.path,
	})
}

func (e *Event) Created() {}

func (e *Event) Deleted() {
	e.Stop()
}

func (e *Event) Activated() {}

func (e *Event) Deactivated() {
	e.Stop()
}
