package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap/errors"
)

var engines = struct {
	sync.RWMutex
	m     map[string]Engine
	inits map[string]*initState
}{
	m:     make(map[string]Engine),
	inits: make(map[string]*initState),
}

type initState struct {
	once sync.Once
	err  error
}

// Register makes an engine available by name. It panics on a duplicate name.
func Register(e Engine) {
	engines.Lock()
	defer engines.Unlock()
	name := e.Name()
	if _, ok := engines.m[name]; ok {
		panic(fmt.Sprintf("engine %s has already been registered", name))
	}
	engines.m[name] = e
}

// Get returns the engine registered under name.
func Get(name string) (Engine, bool) {
	engines.RLock()
	defer engines.RUnlock()
	e, ok := engines.m[name]
	return e, ok
}

// Names lists the registered engines.
func Names() []string {
	engines.RLock()
	defer engines.RUnlock()
	names := make([]string, 0, len(engines.m))
	for name := range engines.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Init runs e.Init at most once per process for every engine name and
// returns the result of that first run on every call.
func Init(e Engine) error {
	name := e.Name()
	engines.Lock()
	st, ok := engines.inits[name]
	if !ok {
		st = new(initState)
		engines.inits[name] = st
	}
	engines.Unlock()

	st.once.Do(func() {
		st.err = e.Init()
		if st.err != nil {
			st.err = errors.Annotatef(st.err, "init engine %s", name)
			return
		}
		log.Infof("engine %s initialized", name)
	})
	return st.err
}
