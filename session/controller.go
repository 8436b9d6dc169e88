// Package session maps key presses in the live window onto loop actions.
package session

import (
	"fmt"
	"io"
	"sync"
)

// Action is what the live loop should do after a key press
type Action int

const (
	None Action = iota
	Quit
	Toggle
	Snapshot
)

func (a Action) String() string {
	switch a {
	case None:
		return "NONE"
	case Quit:
		return "QUIT"
	case Toggle:
		return "TOGGLE"
	case Snapshot:
		return "SNAPSHOT"
	default:
		return "UNKNOWN"
	}
}

// Operator messages printed on key presses
const (
	ActivatedMessage   = "Activated image processing"
	DeactivatedMessage = "Deactivated image processing"
	QuitMessage        = "Quit"
)

// Controller holds the processing toggle
type Controller struct {
	mu         sync.RWMutex
	processing bool
	out        io.Writer

	onToggle func(processing bool, message string)
}

// NewController creates a controller with processing enabled. Toggle
// messages are written to out when it is not nil.
func NewController(out io.Writer) *Controller {
	return &Controller{processing: true, out: out}
}

// SetToggleCallback registers fn to run after every toggle
func (c *Controller) SetToggleCallback(fn func(processing bool, message string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onToggle = fn
}

// Processing reports whether frames should be composited
func (c *Controller) Processing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.processing
}

// HandleKey maps a key code from the window onto an action. Only the low
// byte is inspected, so modifier bits some backends add are ignored.
func (c *Controller) HandleKey(key int) Action {
	if key < 0 {
		return None
	}
	switch byte(key & 0xff) {
	case 'q', 'Q':
		if c.out != nil {
			fmt.Fprintln(c.out, QuitMessage)
		}
		return Quit
	case 'p', 'P':
		c.toggle()
		return Toggle
	case 's', 'S':
		return Snapshot
	default:
		return None
	}
}

func (c *Controller) toggle() {
	c.mu.Lock()
	c.processing = !c.processing
	processing := c.processing
	fn := c.onToggle
	c.mu.Unlock()

	message := DeactivatedMessage
	if processing {
		message = ActivatedMessage
	}
	if c.out != nil {
		fmt.Fprintln(c.out, message)
	}
	if fn != nil {
		fn(processing, message)
	}
}
