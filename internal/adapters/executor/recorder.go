package executor

import (
	"context"
	"sync"
)

// Responder scripts the result of a recorded command.
type Responder func(cmd Command) Result

// Recorder is a Runner that records commands instead of running them.
// Tests across the module use it to assert on issued commands.
type Recorder struct {
	mu       sync.Mutex
	commands []Command
	respond  Responder
}

// NewRecorder returns a Recorder answering with respond. A nil respond
// makes every command succeed with empty output.
func NewRecorder(respond Responder) *Recorder {
	return &Recorder{respond: respond}
}

// Run records cmd and returns the scripted result.
func (r *Recorder) Run(_ context.Context, cmd Command) Result {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	respond := r.respond
	r.mu.Unlock()

	if respond == nil {
		return Result{}
	}
	return respond(cmd)
}

// Commands returns a copy of everything recorded so far.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Lines renders the recorded commands with Command.String.
func (r *Recorder) Lines() []string {
	cmds := r.Commands()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.String()
	}
	return out
}

// Reset forgets recorded commands.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.commands = nil
	r.mu.Unlock()
}
