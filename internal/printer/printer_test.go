package printer

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture redirects output to buffers with colors disabled.
func capture(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr, prevNoColor := Out, ErrOut, color.NoColor
	Out, ErrOut, color.NoColor = out, errOut, true
	t.Cleanup(func() {
		Out, ErrOut, color.NoColor = prevOut, prevErr, prevNoColor
	})
	return out, errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
		assert.Equal(t, "Test Error\n\nThis is a test error\n", errOut.String())
	})

	t.Run("single suggestion is printed as is", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Equal(t, "Test Error", err.Error())
		assert.True(t, strings.HasSuffix(errOut.String(), "\nTry this fix\n"))
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, errOut := capture(t)
	context := map[string]string{
		"Session": "default",
		"Config":  "boardlink.yml",
	}
	err := ErrorWithContext("Test Error", "Explanation", context, []string{"Fix it"})
	require.Equal(t, "Test Error", err.Error())

	output := errOut.String()
	assert.Less(t, strings.Index(output, "Config: boardlink.yml"), strings.Index(output, "Session: default"))
}

func TestMessages(t *testing.T) {
	out, _ := capture(t)

	Success("started %s\n", "engine")
	Success("✓ already marked\n")
	Warning("slow %d\n", 3)
	Step("Checking\n")
	Check(true, "redis", "healthy")
	Check(false, "engine", "not alive")
	KeyValues([]string{"running", "message"}, map[string]string{"running": "true", "message": "ok"})

	assert.Equal(t, strings.Join([]string{
		"✓ started engine",
		"✓ already marked",
		"⚠️  slow 3",
		"→ Checking",
		"  ✓ " + fmt.Sprintf("%-20s", "redis") + " healthy",
		"  ✗ " + fmt.Sprintf("%-20s", "engine") + " not alive",
		"  running:  true",
		"  message:  ok",
		"",
	}, "\n"), out.String())
}
