package session

import (
	"strings"
	"sync"
)

// Draft is composer text together with the room selection it was typed
// under.
type Draft struct {
	Text  string
	Epoch uint64
}

// Composer holds the message being typed. The draft is bound to the active
// room on its first keystroke, so text typed for one room is never sent to
// the next. Emptying the draft releases the binding.
type Composer struct {
	controller *Controller

	mu      sync.Mutex
	draft   Draft
	stamped bool
}

// NewComposer returns an empty Composer bound to c.
func (c *Controller) NewComposer() *Composer {
	return &Composer{controller: c}
}

func (p *Composer) SetText(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case text == "":
		p.draft = Draft{}
		p.stamped = false
		return
	case !p.stamped:
		p.draft.Epoch = p.controller.activeEpoch.Load()
		p.stamped = true
	}
	p.draft.Text = text
}

func (p *Composer) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draft.Text
}

// Submit sends the draft and clears the composer whether or not anything
// was transmitted. Blank drafts are not sent.
func (p *Composer) Submit() bool {
	p.mu.Lock()
	draft, stamped := p.draft, p.stamped
	p.draft = Draft{}
	p.stamped = false
	p.mu.Unlock()

	if !stamped || strings.TrimSpace(draft.Text) == "" {
		return false
	}
	return p.controller.SendDraft(draft)
}
