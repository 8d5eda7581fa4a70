package engine

// storedBody is the decoded form of one by_seq_store row: the reserved
// _id/_rev/_deleted triple plus every other user field, kept flat the
// way a JSON document naturally is.
type storedBody struct {
	ID      string
	Rev     string
	Deleted bool
	Fields  map[string]interface{}
}

const (
	keyID      = "_id"
	keyRev     = "_rev"
	keyDeleted = "_deleted"
)

// encodeBody flattens id/rev/deleted and the user's fields into one
// JSON object, matching how a real document looks on the wire.
func encodeBody(id, rev string, deleted bool, fields map[string]interface{}) ([]byte, error) {
	out := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		out[k] = v
	}

	out[keyID] = id
	out[keyRev] = rev
	if deleted {
		out[keyDeleted] = true
	}

	return marshalJSON(out)
}

// decodeBody reverses encodeBody, also validating that the reserved
// keys are present and well-typed.
func decodeBody(raw []byte) (storedBody, error) {
	var flat map[string]interface{}
	if err := unmarshalJSON(raw, &flat); err != nil {
		return storedBody{}, err
	}

	id, _ := flat[keyID].(string)
	rev, _ := flat[keyRev].(string)
	deleted, _ := flat[keyDeleted].(bool)

	delete(flat, keyID)
	delete(flat, keyRev)
	delete(flat, keyDeleted)

	return storedBody{ID: id, Rev: rev, Deleted: deleted, Fields: flat}, nil
}
