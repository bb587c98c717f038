// Package conflict decides, per target file, whether a transfer should
// skip or overwrite. It is the only place the run-wide override flags are
// mutated; everything else reads them through the policy.
package conflict

import (
	"os"
	"sync"

	errs "tsegrab/pkg/errors"
	"tsegrab/pkg/logger"
)

// Action is what to do with an existing file.
type Action int

const (
	ActionSkip Action = iota
	ActionOverwrite
)

// Scope says whether a decision applies once or to all remaining files.
type Scope int

const (
	ScopeSingleFile Scope = iota
	ScopeAllRemaining
)

// Decision is the outcome of a conflict check for one target path.
type Decision struct {
	Action Action
	Scope  Scope
}

// SessionFlags holds the run-wide override state. Safe for concurrent use.
type SessionFlags struct {
	mu           sync.Mutex
	skipAll      bool
	overwriteAll bool
}

// NewSessionFlags creates session flags with optional presets, used when
// the overrides come from command-line flags instead of a prompt.
func NewSessionFlags(skipAll, overwriteAll bool) *SessionFlags {
	return &SessionFlags{skipAll: skipAll, overwriteAll: overwriteAll}
}

// SkipAll reports whether every remaining conflict should skip.
func (f *SessionFlags) SkipAll() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skipAll
}

// OverwriteAll reports whether every remaining conflict should overwrite.
func (f *SessionFlags) OverwriteAll() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overwriteAll
}

func (f *SessionFlags) set(skipAll, overwriteAll bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipAll = f.skipAll || skipAll
	f.overwriteAll = f.overwriteAll || overwriteAll
}

// Prompter asks the user what to do about an existing file. Implemented
// by prompt.Console; tests substitute a scripted prompter.
type Prompter interface {
	// ConflictChoice returns a decision for an existing file of the given
	// size at path.
	ConflictChoice(path string, size int64) (Decision, error)
}

// Policy resolves conflicts for target paths against the session flags.
type Policy struct {
	flags    *SessionFlags
	prompter Prompter
	logger   logger.Logger
}

// NewPolicy creates a conflict policy.
func NewPolicy(flags *SessionFlags, prompter Prompter, log logger.Logger) *Policy {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Policy{flags: flags, prompter: prompter, logger: log}
}

// Decide returns the skip/overwrite decision for targetPath. Session
// flags short-circuit without touching the filesystem; a missing target
// overwrites implicitly; otherwise the prompter is consulted and any
// "-all" answer is recorded in the session flags.
func (p *Policy) Decide(targetPath string) (Decision, error) {
	if p.flags.SkipAll() {
		return Decision{Action: ActionSkip, Scope: ScopeAllRemaining}, nil
	}
	if p.flags.OverwriteAll() {
		return Decision{Action: ActionOverwrite, Scope: ScopeAllRemaining}, nil
	}

	info, err := os.Stat(targetPath)
	if os.IsNotExist(err) {
		// Nothing to conflict with.
		return Decision{Action: ActionOverwrite, Scope: ScopeSingleFile}, nil
	}
	if err != nil {
		return Decision{}, errs.Newf(errs.KindIO, "cannot stat %s: %v", targetPath, err)
	}

	decision, err := p.prompter.ConflictChoice(targetPath, info.Size())
	if err != nil {
		return Decision{}, err
	}

	if decision.Scope == ScopeAllRemaining {
		p.flags.set(decision.Action == ActionSkip, decision.Action == ActionOverwrite)
		p.logger.InfoWithFields("session override set", map[string]interface{}{
			"skip_all":      p.flags.SkipAll(),
			"overwrite_all": p.flags.OverwriteAll(),
		})
	}

	return decision, nil
}
