package engine

import "fmt"

// The six logical stores of spec.md §3, as fixed namespace names over
// the shared backend: one backend, several fixed-prefix views, the
// same approach storage/mvcc.go's metadataNamespace/keysNamespace/
// revisionsNamespace helpers take.
const (
	nsDocStore    = "doc_store"
	nsBySeqStore  = "by_seq_store"
	nsAttachStore = "attach_store"
	nsBinaryStore = "binary_store"
	nsLocalStore  = "local_store"
	nsMetaStore   = "meta_store"
)

// Reserved meta_store keys, spec.md §6.
const (
	metaLastUpdateSeq = "_local_last_update_seq"
	metaDocCount      = "_local_doc_count"
	metaUUID          = "_local_uuid"
)

// seqKeyWidth is the fixed width of a by_seq_store key: a 16-digit
// zero-padded decimal sequence, spec.md §6.
const seqKeyWidth = 16

func seqKey(seq int64) []byte {
	return []byte(fmt.Sprintf("%0*d", seqKeyWidth, seq))
}
