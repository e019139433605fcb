// Package registry provides a generic thread-safe registry for values indexed by key.
//
// Registry uses sync.RWMutex and is tuned for read-heavy workloads. It supports
// any comparable key type and any value type through Go generics.
//
// # Node Factories
//
// The primary use in this module is registering node factories for
// declarative graph building. A configuration file names node types, and
// the builder looks up the factory for each:
//
//	type NodeFactory func(params map[string]any) (stategraph.NodeFunc[State], error)
//
//	factories := registry.New[string, NodeFactory]()
//	factories.Register("fetch", newFetchNode)
//	factories.Register("transform", newTransformNode)
//	factories.Register("notify", newNotifyNode)
//
//	factory, ok := factories.Get("transform")
//	if ok {
//	    fn, err := factory(params)
//	    // add fn to the graph...
//	}
//
// # Basic Usage
//
//	r := registry.New[string, int]()
//	r.Register("one", 1)
//
//	value, ok := r.Get("one")
//	if ok {
//	    fmt.Println(value) // Output: 1
//	}
//
// # Lazy Initialization
//
// Use GetOrCreate for thread-safe lazy initialization:
//
//	buses := registry.New[string, *event.LocalBus]()
//
//	// First call creates the bus, subsequent calls return the same one
//	bus := buses.GetOrCreate("runs", func() *event.LocalBus {
//	    return event.NewLocalBus()
//	})
//
// GetOrCreate is atomic: the factory function is called at most once per key,
// even under concurrent access.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Range iterates over a
// snapshot of the registry, so mutating the registry during iteration does
// not affect the iteration itself:
//
//	r.Range(func(key string, value int) bool {
//	    if value < 0 {
//	        r.Delete(key) // Won't affect current iteration
//	    }
//	    return true // continue iteration
//	})
package registry
