// Package revtree implements document revision trees: parse_doc,
// process_docs, winning_rev, is_deleted, compact_tree,
// traverse_rev_tree, and collect_conflicts. These are treated as pure
// library functions with no dependency on storage or transport.
//
// Revision ids follow a "<depth>-<hash>" shape. The winning revision is
// chosen among the leaves: a non-deleted leaf always beats a deleted
// one, whatever their depths; among the rest the deepest leaf wins, and
// ties break on the lexicographically greatest hash — the standard MVCC
// tiebreak this class of database uses. A leaf's
// compaction status never enters into this: compaction only prunes a
// stored body, not the tree node that makes it a leaf.
package revtree

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Status is the lifecycle state of one node in a revision tree.
type Status string

const (
	// StatusAvailable means the revision's body is still stored.
	StatusAvailable Status = "available"
	// StatusMissing means the revision's body has been compacted away,
	// but the node is kept so the tree shape (and conflict detection)
	// survives.
	StatusMissing Status = "missing"
)

// Node is one revision in a document's branching history.
type Node struct {
	Rev     string `json:"rev"`
	Parent  string `json:"parent,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Status  Status `json:"status"`
}

// Tree is a document's full revision history, keyed by rev id. It is
// stored verbatim in document metadata's rev_tree field.
type Tree map[string]Node

// Depth returns the numeric depth prefix of a rev id, e.g. 3 for
// "3-abcd". It returns 0 if rev is malformed.
func Depth(rev string) int {
	idx := strings.IndexByte(rev, '-')
	if idx < 0 {
		return 0
	}

	d, err := strconv.Atoi(rev[:idx])
	if err != nil {
		return 0
	}

	return d
}

// Hash returns the hash suffix of a rev id, e.g. "abcd" for "3-abcd".
func Hash(rev string) string {
	idx := strings.IndexByte(rev, '-')
	if idx < 0 {
		return rev
	}

	return rev[idx+1:]
}

// NewRev computes the next revision id for a document given its parent
// rev (empty for the first revision of a new document) and the
// candidate body bytes, whose content determines the hash suffix.
func NewRev(parentRev string, body []byte) string {
	sum := md5.Sum(append([]byte(parentRev), body...))

	return fmt.Sprintf("%d-%s", Depth(parentRev)+1, hex.EncodeToString(sum[:])[:16])
}

// Leaves returns every revision in the tree that has no children.
func Leaves(tree Tree) []string {
	hasChild := make(map[string]bool, len(tree))

	for _, node := range tree {
		if node.Parent != "" {
			hasChild[node.Parent] = true
		}
	}

	leaves := make([]string, 0, len(tree))

	for rev := range tree {
		if !hasChild[rev] {
			leaves = append(leaves, rev)
		}
	}

	sort.Strings(leaves)

	return leaves
}

// WinningRev picks the deterministic winner among a tree's leaves: a
// non-deleted leaf beats a deleted one, deepest wins among the rest, and
// ties break on the greater hash. Status (available vs. missing) plays
// no part — compaction only prunes a leaf's stored body, never the tree
// node itself, so a leaf remains a valid winner candidate whether or not
// its body has been compacted away.
func WinningRev(tree Tree) string {
	leaves := Leaves(tree)
	if len(leaves) == 0 {
		return ""
	}

	best := leaves[0]

	for _, rev := range leaves[1:] {
		if winnerLess(tree, best, rev) {
			best = rev
		}
	}

	return best
}

// winnerLess reports whether candidate b should win over a.
func winnerLess(tree Tree, a, b string) bool {
	na, nb := tree[a], tree[b]

	if na.Deleted != nb.Deleted {
		return na.Deleted && !nb.Deleted
	}

	da, db := Depth(a), Depth(b)
	if da != db {
		return db > da
	}

	return Hash(b) > Hash(a)
}

// IsDeleted reports whether rev is marked deleted in tree.
func IsDeleted(tree Tree, rev string) bool {
	return tree[rev].Deleted
}

// TraverseRevTree marks every node along the path from startRev to the
// root with status. It only changes node statuses; the tree shape is
// left as it is.
func TraverseRevTree(tree Tree, startRev string, status Status) {
	rev := startRev

	for rev != "" {
		node, ok := tree[rev]
		if !ok {
			return
		}

		node.Status = status
		tree[rev] = node
		rev = node.Parent
	}
}

// CompactableRevs returns every non-leaf revision in the tree whose
// status is still StatusAvailable: safe candidates for removal by
// compaction, since leaves (and anything still reachable as a winner)
// are kept.
func CompactableRevs(tree Tree) []string {
	hasChild := make(map[string]bool, len(tree))

	for _, node := range tree {
		if node.Parent != "" {
			hasChild[node.Parent] = true
		}
	}

	var revs []string

	for rev, node := range tree {
		if hasChild[rev] && node.Status == StatusAvailable {
			revs = append(revs, rev)
		}
	}

	sort.Strings(revs)

	return revs
}

// CompactTree marks every revision in revs as StatusMissing. The
// caller (compaction, §4.H) is responsible for deleting the
// corresponding by_seq_store rows; this only updates tree bookkeeping.
func CompactTree(tree Tree, revs []string) {
	for _, rev := range revs {
		node, ok := tree[rev]
		if !ok {
			continue
		}

		node.Status = StatusMissing
		tree[rev] = node
	}
}

// CollectConflicts returns every leaf rev other than winner, in
// descending order — the standard "_conflicts" field in all_docs and
// get responses.
func CollectConflicts(tree Tree, winner string) []string {
	leaves := Leaves(tree)
	conflicts := make([]string, 0, len(leaves))

	for _, rev := range leaves {
		if rev != winner {
			conflicts = append(conflicts, rev)
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(conflicts)))

	return conflicts
}
