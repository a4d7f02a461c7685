package speech

import (
	"errors"
	"sync"

	"github.com/bz888/convo/internal/logger"
)

// ErrUnsupported means the platform lacks the capability (no microphone,
// no VAD model). Controls degrade to hidden/disabled, this is not a
// runtime failure.
var ErrUnsupported = errors.New("speech capability unavailable")

type DictationState int

const (
	DictationIdle DictationState = iota
	DictationListening
	DictationError
)

// EngineEvents are the four event kinds a recognition engine emits.
// Interim carries the rolling preview of the fragment being spoken; Final
// carries a committed fragment; Done fires when the engine stops on its
// own. An engine must not report its no-speech condition through Error.
type EngineEvents struct {
	Interim func(text string)
	Final   func(text string)
	Error   func(err error)
	Done    func()
}

// Engine is a recognition backend driven by explicit start/stop commands.
type Engine interface {
	Start(events EngineEvents) error
	Stop()
}

// Dictation is the toggle-driven live speech-to-text state machine.
// Finalized fragments are appended to the externally owned composed input
// through the appendFinal callback; the adapter never touches conversation
// state itself.
type Dictation struct {
	mu sync.Mutex

	engine      Engine
	appendFinal func(text string)
	log         *logger.Logger

	state   DictationState
	interim string
	lastErr error

	onChange func()
}

// NewDictation wires the state machine to an engine. A nil engine means
// the capability is absent and every start degrades to ErrUnsupported.
func NewDictation(engine Engine, appendFinal func(string)) *Dictation {
	return &Dictation{
		engine:      engine,
		appendFinal: appendFinal,
		log:         logger.NewLogger("dictation"),
	}
}

func (d *Dictation) Supported() bool {
	return d.engine != nil
}

func (d *Dictation) OnChange(fn func()) {
	d.mu.Lock()
	d.onChange = fn
	d.mu.Unlock()
}

func (d *Dictation) notify() {
	d.mu.Lock()
	fn := d.onChange
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Start transitions idle→listening and clears any prior error.
func (d *Dictation) Start() error {
	if d.engine == nil {
		return ErrUnsupported
	}

	d.mu.Lock()
	if d.state == DictationListening {
		d.mu.Unlock()
		return nil
	}
	d.state = DictationListening
	d.interim = ""
	d.lastErr = nil
	d.mu.Unlock()
	d.notify()

	err := d.engine.Start(EngineEvents{
		Interim: d.handleInterim,
		Final:   d.handleFinal,
		Error:   d.handleError,
		Done:    d.handleDone,
	})
	if err != nil {
		d.log.Error("Failed to start recognition engine: ", err)
		d.mu.Lock()
		d.state = DictationError
		d.lastErr = err
		d.mu.Unlock()
		d.notify()
		return err
	}
	return nil
}

// Stop transitions listening→idle.
func (d *Dictation) Stop() {
	if d.engine == nil {
		return
	}

	d.mu.Lock()
	listening := d.state == DictationListening
	d.mu.Unlock()
	if !listening {
		return
	}

	d.engine.Stop()
	d.mu.Lock()
	d.state = DictationIdle
	d.interim = ""
	d.mu.Unlock()
	d.notify()
}

// Toggle flips between listening and idle, the way the mic button does.
func (d *Dictation) Toggle() error {
	d.mu.Lock()
	listening := d.state == DictationListening
	d.mu.Unlock()

	if listening {
		d.Stop()
		return nil
	}
	return d.Start()
}

func (d *Dictation) handleInterim(text string) {
	d.mu.Lock()
	if d.state != DictationListening {
		d.mu.Unlock()
		return
	}
	d.interim = text
	d.mu.Unlock()
	d.notify()
}

func (d *Dictation) handleFinal(text string) {
	// An empty fragment is the engine hearing nothing. Not an error, keep
	// listening.
	if text == "" {
		return
	}

	d.mu.Lock()
	if d.state != DictationListening {
		d.mu.Unlock()
		return
	}
	d.interim = ""
	d.mu.Unlock()

	if d.appendFinal != nil {
		d.appendFinal(text)
	}
	d.notify()
}

func (d *Dictation) handleError(err error) {
	d.log.Error("Recognition error: ", err)
	d.mu.Lock()
	d.state = DictationError
	d.lastErr = err
	d.interim = ""
	d.mu.Unlock()
	d.notify()
}

func (d *Dictation) handleDone() {
	d.mu.Lock()
	if d.state == DictationListening {
		d.state = DictationIdle
	}
	d.interim = ""
	d.mu.Unlock()
	d.notify()
}

func (d *Dictation) State() DictationState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dictation) InterimText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interim
}

func (d *Dictation) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}
