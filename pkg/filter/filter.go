// Package filter compiles the `-e trace=<expr>` predicate language into
// an immutable, allocation-free evaluator. Compile parses the expression
// once; the compiled form is immutable and freely shareable across
// goroutines.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/paiml/renacer/internal/rerrors"
)

// Filter is a compiled trace= expression. The zero value is not usable;
// construct with Compile. Evaluation (Allows) never allocates.
type Filter struct {
	pos      map[string]struct{}
	neg      map[string]struct{}
	posRegex []*regexp.Regexp
	negRegex []*regexp.Regexp
	// everything is true when the expression contributed no positive
	// atoms at all, in which case only negations apply.
	everything bool
}

// classes is the fixed named mapping from class name to syscall-name set.
// Expanded at compile time into the positive/negative literal
// sets so evaluation never touches this map.
var classes = map[string][]string{
	"file":    {"open", "openat", "close", "read", "write", "stat", "fstat", "lstat", "unlink", "rename", "mkdir", "rmdir", "chmod", "chown"},
	"network": {"socket", "connect", "accept", "accept4", "bind", "listen", "send", "recv", "sendto", "recvfrom", "sendmsg", "recvmsg", "getsockopt", "setsockopt", "shutdown"},
	"process": {"fork", "vfork", "clone", "execve", "exit", "exit_group", "wait4", "kill", "getpid", "getppid"},
	"memory":  {"mmap", "munmap", "mprotect", "brk", "madvise"},
	"signal":  {"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "sigaltstack"},
	"ipc":     {"shmget", "shmat", "shmdt", "msgget", "msgsnd", "msgrcv", "semget", "semop"},
	"desc":    {"poll", "select", "epoll_create", "epoll_ctl", "epoll_wait", "dup", "dup2", "fcntl"},
}

// Compile parses expr per the grammar:
//
//	expr := item (',' item)*
//	item := '!'? atom
//	atom := class | literal | '/' regex '/'
func Compile(expr string) (*Filter, error) {
	f := &Filter{
		pos: make(map[string]struct{}),
		neg: make(map[string]struct{}),
	}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		f.everything = true
		return f, nil
	}
	for _, item := range strings.Split(expr, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		negate := false
		for strings.HasPrefix(item, "!") {
			negate = !negate
			item = strings.TrimSpace(item[1:])
		}
		if item == "" {
			return nil, &rerrors.FilterCompile{Detail: "dangling negation"}
		}
		if err := f.addAtom(item, negate); err != nil {
			return nil, err
		}
	}
	f.everything = len(f.pos) == 0 && len(f.posRegex) == 0
	return f, nil
}

func (f *Filter) addAtom(atom string, negate bool) error {
	if strings.HasPrefix(atom, "/") && strings.HasSuffix(atom, "/") && len(atom) >= 2 {
		pattern := atom[1 : len(atom)-1]
		re, err := regexp.Compile(pattern)
		if err != nil {
			return &rerrors.FilterCompile{Detail: fmt.Sprintf("bad regex %q: %v", pattern, err)}
		}
		if negate {
			f.negRegex = append(f.negRegex, re)
		} else {
			f.posRegex = append(f.posRegex, re)
		}
		return nil
	}
	if names, ok := classes[atom]; ok {
		set := f.pos
		if negate {
			set = f.neg
		}
		for _, n := range names {
			set[n] = struct{}{}
		}
		return nil
	}
	set := f.pos
	if negate {
		set = f.neg
	}
	set[atom] = struct{}{}
	return nil
}

// Allows reports whether a syscall named name should be traced.
// Evaluation order: negative atoms reject first;
// everything-mode (no positive atoms) accepts by default; otherwise a
// positive-atom match is required.
func (f *Filter) Allows(name string) bool {
	if _, rejected := f.neg[name]; rejected {
		return false
	}
	for _, re := range f.negRegex {
		if re.MatchString(name) {
			return false
		}
	}
	if f.everything {
		return true
	}
	if _, ok := f.pos[name]; ok {
		return true
	}
	for _, re := range f.posRegex {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
