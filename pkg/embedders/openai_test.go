package embedders

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalworks/nefro/pkg/httpclient"
)

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

type errorTransport struct {
	status int
	bodies []*trackingBody
}

func (e *errorTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	body := &trackingBody{Reader: strings.NewReader(`{"error":{"message":"invalid api key"}}`)}
	e.bodies = append(e.bodies, body)
	return &http.Response{
		StatusCode: e.status,
		Body:       body,
		Header:     make(http.Header),
		Request:    r,
	}, nil
}

func TestOpenAIEmbedder_ClosesBodyOnHTTPError(t *testing.T) {
	rt := &errorTransport{status: http.StatusUnauthorized}
	e := &OpenAIEmbedder{
		client:  httpclient.New(httpclient.WithHTTPClient(&http.Client{Transport: rt})),
		apiKey:  "bad-key",
		baseURL: "http://embeddings.test",
		model:   "text-embedding-3-small",
	}

	_, err := e.Embed(context.Background(), "저칼륨 식단")
	require.Error(t, err)
	require.NotEmpty(t, rt.bodies)
	for i, b := range rt.bodies {
		assert.True(t, b.closed, "response body %d left open", i)
	}
}
