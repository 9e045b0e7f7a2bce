// Package locker provides an HTTP middleware that locks manual control of the
// instrument, returning 423 (locked) while someone else holds it.
package locker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/photonlab/scanctl/generichttp"
)

const (
	// Manual is the holder of a lock taken over the /lock route
	Manual = "manual"

	// Run is the holder while a measurement run owns the instrument
	Run = "run"
)

// Inject adds a lock route to a generichttp.HTTPer which is used to manipulate the locker
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker is a non-blocking lock with a named holder, and a list of top level
// routes it never protects
type Locker struct {
	mu     sync.Mutex
	holder string

	// DoNotProtect lists first path segments exempt from the lock
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Acquire takes the lock for holder.  It reports false if someone else holds
// it; acquiring a lock already held by the same holder succeeds.
func (l *Locker) Acquire(holder string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != "" && l.holder != holder {
		return false
	}
	l.holder = holder
	return true
}

// Release frees the lock if holder holds it, and reports whether the lock is
// now free
func (l *Locker) Release(holder string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == holder {
		l.holder = ""
	}
	return l.holder == ""
}

// Lock takes the lock for Manual regardless of the current holder
func (l *Locker) Lock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holder = Manual
}

// TryLock is Acquire(Manual) that fails when the lock is held at all
func (l *Locker) TryLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != "" {
		return false
	}
	l.holder = Manual
	return true
}

// Unlock frees the lock regardless of the holder
func (l *Locker) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holder = ""
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	return l.Holder() != ""
}

// Holder is the current holder, empty when unlocked
func (l *Locker) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

func (l *Locker) exempt(path string) bool {
	seg := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)[0]
	for _, str := range l.DoNotProtect {
		if seg == str {
			return true
		}
	}
	return false
}

// Check is an HTTP middleware that returns http.StatusLocked while the lock is
// held, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := l.Holder(); h != "" && !l.exempt(r.URL.Path) {
			http.Error(w, fmt.Sprintf("locked by %s", h), http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet takes or releases the Manual lock based on json:bool on the request
// body.  A lock held by a run cannot be taken or released this way.
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var ok bool
	if b.Bool {
		ok = l.Acquire(Manual)
	} else {
		ok = l.Release(Manual)
	}
	if !ok {
		http.Error(w, fmt.Sprintf("locked by %s", l.Holder()), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type lockState struct {
	Locked bool   `json:"locked"`
	Holder string `json:"holder,omitempty"`
}

// HTTPGet returns the lock state and holder as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	h := l.Holder()
	generichttp.RespondJSON(w, lockState{Locked: h != "", Holder: h})
}
