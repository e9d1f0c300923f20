package providers

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("bot@example.com", "me@example.com", "蝦幣 ok", "<p>hi</p>", "hi", "b1", time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))

	assert.True(t, strings.HasPrefix(msg, "From: bot@example.com\r\nTo: me@example.com\r\n"))
	assert.Contains(t, msg, "Subject: =?utf-8?q?")
	assert.Contains(t, msg, `boundary="b1"`)
	assert.Less(t, strings.Index(msg, "text/plain"), strings.Index(msg, "text/html"))
	assert.True(t, strings.HasSuffix(msg, "--b1--\r\n"))
}

func TestSend(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 2525, "", "", "bot@example.com")
	var gotAddr string
	var gotAuth smtp.Auth
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth = addr, a
		return nil
	}
	require.NoError(t, s.Send("me@example.com", "s", "h", "p"))
	assert.Equal(t, "smtp.example.com:2525", gotAddr)
	assert.Nil(t, gotAuth)

	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	assert.ErrorContains(t, s.Send("me@example.com", "s", "h", "p"), "refused")
}
