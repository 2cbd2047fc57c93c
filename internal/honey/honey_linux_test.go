//go:build linux

package honey

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppiankov/backupsentry/internal/logging"
)

func TestWatchReportsReads(t *testing.T) {
	set, err := Create("nightly", sampleManifest(), testConfig(t), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { set.Teardown() })

	ch, err := set.Watch()
	require.NoError(t, err)

	want := make(map[string]bool)
	for _, tok := range set.Tokens {
		want[tok.TokenID] = true
		_, err := os.ReadFile(tok.Path)
		require.NoError(t, err)
	}

	got := collect(t, ch, want, 5*time.Second)
	for _, ev := range got {
		if ev.Op != "open" && ev.Op != "access" {
			t.Errorf("op = %q, want open or access", ev.Op)
		}
	}
}
