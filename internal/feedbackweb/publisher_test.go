package feedbackweb

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stereosphere/panorec/internal/geom"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPublisherBroadcast(t *testing.T) {
	t.Parallel()

	p := NewPublisher()
	srv := httptest.NewServer(p)
	defer srv.Close()
	defer p.Close()

	conn := dial(t, srv.URL)

	// Wait for registration before publishing.
	require.Eventually(t, func() bool { return p.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	p.Publish(geom.RotationY(0.5), geom.Vec3{X: 0.1}, 0.1, 3, 16, false)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Progress
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, 3, got.RecordedImages)
	assert.Equal(t, 16, got.ImagesToRecord)
	assert.InDelta(t, 0.1, got.ErrorVector[0], 1e-9)
	assert.False(t, got.Finished)
}

func TestPublisherReplaysLastToLateSubscriber(t *testing.T) {
	t.Parallel()

	p := NewPublisher()
	srv := httptest.NewServer(p)
	defer srv.Close()
	defer p.Close()

	p.Publish(geom.Identity4(), geom.Vec3{}, 0, 16, 16, true)

	conn := dial(t, srv.URL)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Progress
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.True(t, got.Finished)
	assert.Equal(t, 16, got.RecordedImages)
}
