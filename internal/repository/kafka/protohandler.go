package kafka

import (
	"context"
	"fmt"

	"github.com/NordCoder/Notifyhub/internal/obs/retry"
	"google.golang.org/protobuf/proto"
)

// ProtoHandler decodes the value into a fresh M before calling handle. A
// value that does not decode is a permanent failure and is never retried.
func ProtoHandler[M proto.Message](ctor func() M, handle func(context.Context, []byte, M) error) Handler {
	return func(ctx context.Context, key, value []byte) error {
		msg := ctor()
		if err := proto.Unmarshal(value, msg); err != nil {
			return retry.Permanent(fmt.Errorf("decode %T: %w", msg, err))
		}
		return handle(ctx, key, msg)
	}
}
