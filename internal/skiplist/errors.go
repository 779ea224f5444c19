package skiplist

import "errors"

// ErrSentinelKey is returned by Insert when the caller attempts to insert
// the map's reserved footer key. The footer is a sentinel used internally
// to terminate every level and is never a legal user entry.
var ErrSentinelKey = errors.New("skiplist: key equals reserved sentinel footer key")

// ErrSnapshotParse is returned by Load when a line of the snapshot file
// cannot be parsed into a (key, value) pair, or when the resulting insert
// is rejected.
var ErrSnapshotParse = errors.New("skiplist: malformed snapshot line")
