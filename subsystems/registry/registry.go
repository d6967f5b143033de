// Package registry is used to register provisioning steps from other packages.
package registry

import (
	"sort"
	"sync"

	"github.com/viamrobotics/ble-provisioner/subsystems"
)

var (
	mu       sync.Mutex
	creators = map[string]CreatorFunc{}
)

// CreatorFunc builds a step for one run. Steps that do not apply to env.Profile return (nil, nil).
type CreatorFunc func(env *subsystems.Env) (subsystems.Step, error)

func Register(name string, creator CreatorFunc) {
	mu.Lock()
	defer mu.Unlock()
	creators[name] = creator
}

func Deregister(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(creators, name)
}

func GetCreator(name string) CreatorFunc {
	mu.Lock()
	defer mu.Unlock()
	creator, ok := creators[name]
	if ok {
		return creator
	}
	return nil
}

func List() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(creators))
	for k := range creators {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
