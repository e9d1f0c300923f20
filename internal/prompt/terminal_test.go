package prompt

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLateAnswerIsNotGivenToNextPrompt(t *testing.T) {
	r, w := io.Pipe()
	term := NewTerminal(r, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := term.PromptLine(ctx, "sms code: ")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The code arrives after the first prompt gave up.
	_, err = w.Write([]byte("123456\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(term.lines) == 1 }, time.Second, time.Millisecond)

	go func() {
		// Typed once the second prompt is showing.
		for term.seq.Load() < 2 {
			time.Sleep(time.Millisecond)
		}
		_, _ = w.Write([]byte("retry\n"))
		_ = w.Close()
	}()
	got, err := term.PromptLine(context.Background(), "continue? ")
	require.NoError(t, err)
	assert.Equal(t, "retry", got)

	_, err = term.PromptLine(context.Background(), "")
	assert.ErrorIs(t, err, io.EOF)
}
