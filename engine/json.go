package engine

import scaupjson "github.com/scaupdb/scaup/internal/json"

func marshalJSON(v interface{}) ([]byte, error) {
	return scaupjson.Marshal(v)
}

func unmarshalJSON(data []byte, v interface{}) error {
	return scaupjson.Unmarshal(data, v)
}
