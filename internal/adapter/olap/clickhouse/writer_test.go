package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// InsertClickEvents on an empty batch must be a no-op and never touch the
// underlying connection, so this is safe to test without a live ClickHouse
// server or a hand-rolled driver.Conn fake.
func TestWriter_InsertClickEvents_EmptyIsNoop(t *testing.T) {
	w := &Writer{conn: nil}
	require.NoError(t, w.InsertClickEvents(context.Background(), nil))
}
