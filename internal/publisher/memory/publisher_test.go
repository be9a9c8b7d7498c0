package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRecordsMessages(t *testing.T) {
	p := New()

	id, err := p.Publish(context.Background(), "import.finished", map[string]string{"job_id": "job-1"})
	require.NoError(t, err)
	require.Equal(t, "mem-1", id)

	id, err = p.Publish(context.Background(), "import.finished", map[string]string{"job_id": "job-2"})
	require.NoError(t, err)
	require.Equal(t, "mem-2", id)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "import.finished", msgs[0].Topic)
}
