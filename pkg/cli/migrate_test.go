package cli_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hypomnema/pkg/cli"
	"github.com/secmon-lab/hypomnema/pkg/domain/model/config"
)

func TestGetIndexConfig(t *testing.T) {
	vectors := config.DefaultVectorConfig(256)
	cfg := cli.GetIndexConfig("test_", vectors)

	names := make(map[string]int)
	for _, c := range cfg.Collections {
		names[c.Name] = len(c.Indexes)
	}

	gt.Value(t, names["test_conversations"]).Equal(1)
	gt.Value(t, names["messages"]).Equal(2)
	gt.Value(t, names["summaries"]).Equal(1)
	gt.Value(t, names["test_vector_documents"]).Equal(2)
	gt.Value(t, names["test_vector_memory"]).Equal(2)

	for _, c := range cfg.Collections {
		if c.Name != "test_vector_memory" {
			continue
		}
		vecField := c.Indexes[0].Fields[0]
		gt.Value(t, vecField.Path).Equal("Embedding")
		gt.Value(t, vecField.Vector).NotNil()
		gt.Value(t, vecField.Vector.Dimension).Equal(256)
		gt.Value(t, c.Indexes[1].Fields[0].Path).Equal("Metadata.userId")
	}
}
