package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/mailguard/pkg/config"
)

func TestServer_Serve_ShutsDownOnContextCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(zaptest.NewLogger(t), config.Server{ShutdownTimeout: "2s"}, true, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/healthz", ln.Addr().String())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	_, err = http.Get(url)
	assert.Error(t, err, "listener should be closed after shutdown")
}

func TestServer_Serve_ReturnsListenerErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(zaptest.NewLogger(t), config.Server{}, true, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	err = server.Serve(context.Background(), ln)
	assert.Error(t, err)
}

func TestServer_Listen_InvalidAddress(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(zaptest.NewLogger(t), config.Server{ListenAddress: "not-an-address"}, true, nil)

	err := server.Listen(context.Background())
	assert.Error(t, err)
}
