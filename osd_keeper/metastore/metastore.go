package metastore

import (
	"context"
	"strings"
)

// MetaStore is a hierarchical key-value store. Every method returns succ as
// false when the store couldn't be reached or rejected the write; callers
// decide whether that matters.
type MetaStore interface {
	Close()

	Get(ctx context.Context, path string) (data []byte, exists bool, succ bool)
	Children(ctx context.Context, path string) (subs []string, exists bool, succ bool)

	Create(ctx context.Context, path string, data []byte) (succ bool)
	Set(ctx context.Context, path string, data []byte) (succ bool)
	Delete(ctx context.Context, path string) (succ bool)

	// WriteBatch applies all ops or none of them.
	WriteBatch(ctx context.Context, ops ...WriteOp) (succ bool)

	RecursiveCreate(ctx context.Context, path string) (succ bool)
	RecursiveDelete(ctx context.Context, path string) (succ bool)
}

func splitPath(path string) []string {
	output := []string{}
	for _, token := range strings.Split(path, "/") {
		if token != "" {
			output = append(output, token)
		}
	}
	return output
}

// JoinPath joins path elements into an absolute path.
func JoinPath(elements ...string) string {
	tokens := []string{}
	for _, e := range elements {
		tokens = append(tokens, splitPath(e)...)
	}
	return "/" + strings.Join(tokens, "/")
}
