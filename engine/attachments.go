package engine

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// digestOf returns the content-addressed digest of raw attachment
// bytes, spec.md §6's "md5-<base64 of the 16-byte MD5>" format.
func digestOf(data []byte) string {
	sum := md5.Sum(data)

	return "md5-" + base64.StdEncoding.EncodeToString(sum[:])
}

// encodeBase64 renders raw attachment bytes the way Attachment.Data
// expects them, the inverse of decodeAttachmentBody.
func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// decodeAttachmentBody decodes an inline attachment's Data field,
// base64 the only encoding spec.md §4.D recognizes for string bodies.
func decodeAttachmentBody(data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, newBadArgument(fmt.Sprintf("attachment data is not valid base64: %s", err))
	}

	return raw, nil
}

// hashedAttachment is the result of resolving one document attachment
// to its digest and (for non-stubs) raw bytes.
type hashedAttachment struct {
	name   string
	digest string
	body   []byte // nil for stubs
	isStub bool
}

// hashAttachments resolves every attachment on one document to its
// digest, hashing non-stub bodies in parallel — spec.md §5: "Attachments
// within one doc may be hashed in parallel." Grounded on
// golang.org/x/sync/errgroup, the standard idiom for fan-out-then-join
// over a fixed set of tasks.
func hashAttachments(atts map[string]Attachment) ([]hashedAttachment, error) {
	names := make([]string, 0, len(atts))
	for name := range atts {
		names = append(names, name)
	}

	results := make([]hashedAttachment, len(names))
	group, _ := errgroup.WithContext(context.Background())

	for i, name := range names {
		i, name := i, name
		att := atts[name]

		group.Go(func() error {
			if att.Stub {
				if att.Digest == "" {
					return newBadArgument(fmt.Sprintf("attachment %q is a stub with no digest", name))
				}

				results[i] = hashedAttachment{name: name, digest: att.Digest, isStub: true}

				return nil
			}

			body, err := decodeAttachmentBody(att.Data)
			if err != nil {
				return err
			}

			results[i] = hashedAttachment{name: name, digest: digestOf(body), body: body}

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// attachmentStore implements component F: the content-addressed binary
// store plus its reference map, and the per-digest serialization
// spec.md §4.E/§9 requires so that concurrent ref updates for the same
// digest within one bulk write never interleave.
//
// Grounded on golang.org/x/sync/singleflight, which is exactly a
// promise-per-key cache — the idiom the design notes call for — rather
// than a hand-rolled mutex map.
type attachmentStore struct {
	txn    *Txn
	chains singleflight.Group
}

func newAttachmentStore(txn *Txn) *attachmentStore {
	return &attachmentStore{txn: txn}
}

func (s *attachmentStore) attachNS() NamespacedTxn { return s.txn.NS(nsAttachStore) }
func (s *attachmentStore) binaryNS() NamespacedTxn { return s.txn.NS(nsBinaryStore) }

// addRef records that docID@rev now points at digest, writing the raw
// body to binary_store the first time this digest is seen (and only
// when its length is nonzero, per spec.md §4.E's body-write rule).
// writeDoc calls it once per attachment, one call at a time, so ref
// updates for a digest never interleave. The singleflight group merges
// overlapping calls for the same digest rather than queueing them: a
// call that overlaps one already in flight returns that call's result
// without recording its own ref. The underlying Txn is not safe for
// concurrent use, so concurrent calls are not supported.
func (s *attachmentStore) addRef(digest, docID, rev string, body []byte) error {
	key := docID + "@" + rev

	_, err, _ := s.chains.Do(digest, func() (interface{}, error) {
		raw, err := s.attachNS().Get([]byte(digest))

		var refs AttachmentRefs
		isNew := false

		switch {
		case err == nil:
			if unmarshalErr := unmarshalJSON(raw, &refs); unmarshalErr != nil {
				return nil, fmt.Errorf("scaup: corrupt attach_store row for %s: %w", digest, unmarshalErr)
			}
		case isNotFound(err):
			isNew = true
		default:
			return nil, err
		}

		// Ref-update rule (spec.md §4.E): if the row exists without a
		// refs map (a legacy row), leave it alone — do not back-fill.
		if !isNew && refs.Refs == nil {
			return nil, nil
		}

		if refs.Refs == nil {
			refs.Refs = make(map[string]bool)
		}
		refs.Refs[key] = true

		encoded, err := marshalJSON(refs)
		if err != nil {
			return nil, err
		}

		s.attachNS().Put([]byte(digest), encoded)

		if isNew && len(body) > 0 {
			s.binaryNS().Put([]byte(digest), body)
		}

		return nil, nil
	})

	return err
}

// stubExists reports whether digest has a row in attach_store, used by
// stub verification (spec.md §4.D stage 2).
func (s *attachmentStore) stubExists(digest string) (bool, error) {
	_, err := s.attachNS().Get([]byte(digest))
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}

	return false, err
}

// Get implements the read path of component F: get_attachment. It
// returns the raw bytes if present, or an empty slice if the body is
// legitimately absent (zero-length attachments never hit binary_store),
// and propagates any other backend error.
func (s *attachmentStore) Get(digest string) ([]byte, error) {
	data, err := s.binaryNS().Get([]byte(digest))
	if err == nil {
		return data, nil
	}
	if isNotFound(err) {
		return []byte{}, nil
	}

	return nil, err
}

// removeRefs drops every key in removedRefs from digest's ref map,
// deleting the attach_store (and binary_store) rows entirely once no
// references remain. This is compaction's half of attachment GC
// (spec.md §4.H step 4).
func (s *attachmentStore) removeRefs(digest string, removedRefs map[string]bool) error {
	raw, err := s.attachNS().Get([]byte(digest))
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var refs AttachmentRefs
	if err := unmarshalJSON(raw, &refs); err != nil {
		return fmt.Errorf("scaup: corrupt attach_store row for %s: %w", digest, err)
	}

	if refs.Refs == nil {
		// legacy row with no refs map: never migrated, never reclaimed.
		return nil
	}

	for key := range removedRefs {
		delete(refs.Refs, key)
	}

	if len(refs.Refs) > 0 {
		encoded, err := marshalJSON(refs)
		if err != nil {
			return err
		}

		s.attachNS().Put([]byte(digest), encoded)

		return nil
	}

	s.attachNS().Delete([]byte(digest))
	s.binaryNS().Delete([]byte(digest))

	return nil
}
