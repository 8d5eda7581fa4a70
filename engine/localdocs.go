package engine

import "strconv"

// localDoc is the decoded local_store row shape: no revision tree, no
// change-feed participation, just a monotonically incrementing numeric
// rev suffix (spec.md §4.I).
type localDoc struct {
	ID     string
	Rev    string
	Fields map[string]interface{}
}

func getLocalDoc(store NamespacedTxn, id string) (localDoc, error) {
	raw, err := store.Get([]byte(id))
	if err != nil {
		return localDoc{}, err
	}

	stored, err := decodeBody(raw)
	if err != nil {
		return localDoc{}, err
	}

	return localDoc{ID: stored.ID, Rev: stored.Rev, Fields: stored.Fields}, nil
}

// nextLocalRev computes the next local-doc revision: "0-1" for the
// first write, "0-<n+1>" thereafter.
func nextLocalRev(prev string) string {
	if prev == "" {
		return "0-1"
	}

	idx := -1
	for i := len(prev) - 1; i >= 0; i-- {
		if prev[i] == '-' {
			idx = i

			break
		}
	}
	if idx < 0 {
		return "0-1"
	}

	n, err := strconv.Atoi(prev[idx+1:])
	if err != nil {
		return "0-1"
	}

	return "0-" + strconv.Itoa(n+1)
}

// PutLocal implements `put_local`, spec.md §4.I, on the write lock.
func (db *DB) PutLocal(doc Doc) (Result, error) {
	if err := db.checkOpen(); err != nil {
		return Result{}, err
	}

	result, err := db.queue.Submit(Write, func() (interface{}, error) {
		txn := NewTxn(db.backend)
		store := txn.NS(nsLocalStore)

		res, err := db.putLocalInTxn(store, doc)
		if err != nil {
			return nil, err
		}

		if err := txn.Execute(); err != nil {
			return nil, err
		}

		return res, nil
	})
	if err != nil {
		return Result{}, err
	}

	return result.(Result), nil
}

// GetLocal implements `get_local`, spec.md §4.I, on a read slot.
func (db *DB) GetLocal(id string) (Doc, error) {
	if err := db.checkOpen(); err != nil {
		return Doc{}, err
	}

	result, err := db.queue.Submit(Read, func() (interface{}, error) {
		txn := NewTxn(db.backend)
		store := txn.NS(nsLocalStore)

		local, err := getLocalDoc(store, id)
		if err != nil {
			if isNotFound(err) {
				return Doc{}, newMissing(ReasonMissing)
			}

			return Doc{}, err
		}

		return Doc{ID: local.ID, Rev: local.Rev, Body: local.Fields}, nil
	})
	if err != nil {
		return Doc{}, err
	}

	return result.(Doc), nil
}

// RemoveLocal implements `remove_local`, spec.md §4.I, on the write lock.
func (db *DB) RemoveLocal(doc Doc) (Result, error) {
	if err := db.checkOpen(); err != nil {
		return Result{}, err
	}

	result, err := db.queue.Submit(Write, func() (interface{}, error) {
		txn := NewTxn(db.backend)
		store := txn.NS(nsLocalStore)

		existing, err := getLocalDoc(store, doc.ID)
		if err != nil {
			if isNotFound(err) {
				return Result{}, newMissing(ReasonMissing)
			}

			return Result{}, err
		}

		if doc.Rev == "" || doc.Rev != existing.Rev {
			return Result{}, newRevConflict()
		}

		store.Delete([]byte(doc.ID))

		if err := txn.Execute(); err != nil {
			return Result{}, err
		}

		return Result{OK: true, ID: doc.ID, Rev: "0-0"}, nil
	})
	if err != nil {
		return Result{}, err
	}

	return result.(Result), nil
}
