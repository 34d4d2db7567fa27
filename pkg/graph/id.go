package graph

import (
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

const nodePrefix = "node"

// NewNodeID returns a fresh, sortable node identifier such as
// "node_01hq3…". Lowercase keeps the ID a bare DOT identifier.
func NewNodeID() string {
	return fmt.Sprintf("%s_%s", nodePrefix, strings.ToLower(ulid.Make().String()))
}

// IsGeneratedID reports whether id was produced by NewNodeID.
func IsGeneratedID(id string) bool {
	rest, ok := strings.CutPrefix(id, nodePrefix+"_")
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(rest))
	return err == nil
}
