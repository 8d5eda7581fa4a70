package kv

// Namespaced narrows a Backend to a single namespace, so higher layers
// never have to pass ns around. It is the sublevel view over the six
// logical stores in the data model: each store is just a Namespace call
// away from the shared backend.
//
// Mirrors storage/kv's Namespace(txn, prefix) wrapper, adapted from a
// byte-prefix scheme to the backend's first-class ns argument.
type Namespaced struct {
	Backend Backend
	NS      string
}

// Namespace returns a view of b scoped to ns.
func Namespace(b Backend, ns string) Namespaced {
	return Namespaced{Backend: b, NS: ns}
}

// Get reads key from this namespace.
func (n Namespaced) Get(key []byte) ([]byte, error) {
	return n.Backend.Get(n.NS, key)
}

// Put writes key to this namespace.
func (n Namespaced) Put(key, value []byte) error {
	return n.Backend.Put(n.NS, key, value)
}

// Del removes key from this namespace.
func (n Namespaced) Del(key []byte) error {
	return n.Backend.Del(n.NS, key)
}

// RangeScan opens a cursor over this namespace.
func (n Namespaced) RangeScan(opts RangeOptions) (Cursor, error) {
	return n.Backend.RangeScan(n.NS, opts)
}

// Op builds a BatchOp targeting this namespace.
func (n Namespaced) Op(op Op, key, value []byte) BatchOp {
	return BatchOp{NS: n.NS, Op: op, Key: key, Value: value}
}
