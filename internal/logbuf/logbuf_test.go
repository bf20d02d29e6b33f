package logbuf

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminal_Write(t *testing.T) {
	t.Run("splits lines and holds partial", func(t *testing.T) {
		term := NewTerminal(10)

		n, err := term.Write([]byte("first\r\nsec"))
		require.NoError(t, err)
		assert.Equal(t, 10, n)
		assert.Equal(t, []string{"first"}, term.Lines())

		_, _ = term.Write([]byte("ond\nthird\n"))
		assert.Equal(t, []string{"first", "second", "third"}, term.Lines())
	})

	t.Run("evicts oldest beyond capacity", func(t *testing.T) {
		term := NewTerminal(TerminalCapacity)
		for i := 0; i < 150; i++ {
			fmt.Fprintf(term, "line %d\n", i)
		}

		lines := term.Lines()
		require.Len(t, lines, TerminalCapacity)
		assert.Equal(t, "line 50", lines[0])
		assert.Equal(t, "line 149", lines[99])
		assert.Equal(t, []string{"line 148", "line 149"}, term.Tail(2))
	})

	t.Run("clear", func(t *testing.T) {
		term := NewTerminal(5)
		term.Append("x")
		term.Clear()
		assert.Empty(t, term.Lines())
	})
}

func TestLogs_Add(t *testing.T) {
	logs := NewLogs(LogsCapacity, false)
	logs.now = func() time.Time { return time.Date(2026, 1, 2, 13, 4, 5, 0, time.UTC) }

	entry := logs.Add("  game started  ", KindSuccess)
	assert.Equal(t, Entry{Timestamp: "13:04:05", Message: "game started", Type: KindSuccess}, entry)

	logs.Add("odd", Kind("debug"))
	entries := logs.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, KindInfo, entries[1].Type)
}

func TestLogs_Bounded(t *testing.T) {
	logs := NewLogs(LogsCapacity, false)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				logs.Infof("worker %d entry %d", w, i)
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, logs.Entries(), LogsCapacity)
	logs.Clear()
	assert.Empty(t, logs.Entries())
}
