package httpclient

import (
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetflow/sheetflow/errors"
)

type trippedRecorder struct {
	called bool
}

func (r *trippedRecorder) RoundTrip(*http.Request) (*http.Response, error) {
	r.called = true
	return nil, errors.New("transport reached")
}

func TestValidateURLSchemes(t *testing.T) {
	client := NewSaferClient(10 * time.Second)

	httpsURL, err := url.Parse("https://api.openai.com/v1/batches")
	require.NoError(t, err)
	assert.NoError(t, client.validateURL(httpsURL))

	fileURL, err := url.Parse("file:///etc/passwd")
	require.NoError(t, err)
	assert.Error(t, client.validateURL(fileURL))
}

func TestValidateURLCredentialInjection(t *testing.T) {
	client := NewSaferClient(10 * time.Second)

	u, err := url.Parse("http://evil.com@localhost/")
	require.NoError(t, err)
	assert.Error(t, client.validateURL(u))
}

func TestDoRejectsCredentialInjectionBeforeDialing(t *testing.T) {
	recorder := &trippedRecorder{}
	client := WrapClient(&http.Client{Transport: recorder})

	req, err := http.NewRequest(http.MethodGet, "http://attacker@127.0.0.1:1/", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "SSRF")
	assert.False(t, recorder.called, "request must be blocked before reaching the transport")
}

func TestGetRejectsDisallowedScheme(t *testing.T) {
	recorder := &trippedRecorder{}
	client := WrapClient(&http.Client{Transport: recorder})

	resp, err := client.Get("file:///etc/passwd")
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.False(t, recorder.called)
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.5", true},
		{"192.168.1.1", true},
		{"172.16.0.1", true},
		{"169.254.169.254", true}, // cloud metadata endpoint
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"104.18.2.115", false},
	}

	for _, tt := range tests {
		ip := net.ParseIP(tt.ip)
		require.NotNil(t, ip, tt.ip)
		assert.Equal(t, tt.private, isPrivateIP(ip), tt.ip)
	}
}
