// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_ProviderSelection(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"google with full credentials", Config{GoogleAPIKey: "k", GoogleCSEID: "cx"}, ProviderGoogle},
		{"bing when google incomplete", Config{GoogleAPIKey: "k", BingAPIKey: "b"}, ProviderBing},
		{"duckduckgo without credentials", Config{}, ProviderDuckDuckGo},
		{"auto falls through to credentials", Config{Provider: "auto", BingAPIKey: "b"}, ProviderBing},
		{"explicit provider wins over credentials", Config{Provider: ProviderDuckDuckGo, GoogleAPIKey: "k", GoogleCSEID: "cx"}, ProviderDuckDuckGo},
		{"explicit bing", Config{Provider: ProviderBing, BingAPIKey: "b"}, ProviderBing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewClient(tt.cfg, nil).Provider())
		})
	}
}

func TestSearchGoogle_ParsesAndCaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("key"))
		w.Write([]byte(`{"items":[
			{"link":"https://a","title":"A","snippet":"first"},
			{"link":"https://b","title":"B","snippet":"second"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{GoogleAPIKey: "key", GoogleCSEID: "cx"}, nil)
	c.httpc = srv.Client()
	// Point the client at the test server by rewriting the request URL.
	c.httpc.Transport = rewriteHost(srv)

	results, err := c.Search(context.Background(), "NullPointerException fix")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://a", results[0].URL)
	assert.Equal(t, "first", results[0].Snippet)
}

func TestSearchDuckDuckGo_AbstractAndTopics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"Abstract":"An explanation",
			"AbstractURL":"https://wiki/x",
			"Heading":"X",
			"RelatedTopics":[{"Text":"related info","FirstURL":"https://rel"}]
		}`))
	}))
	defer srv.Close()

	c := NewClient(Config{}, nil)
	c.httpc = srv.Client()
	c.httpc.Transport = rewriteHost(srv)

	results, err := c.Search(context.Background(), "timeout error")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://wiki/x", results[0].URL)
	assert.Equal(t, "related info", results[1].Snippet)
}

func TestSearch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{BingAPIKey: "b"}, nil)
	c.httpc = srv.Client()
	c.httpc.Transport = rewriteHost(srv)

	_, err := c.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestBuildQuery(t *testing.T) {
	query := BuildQuery("java.lang.NullPointerException at UserService.authenticate", "CODE_ERROR")
	assert.Contains(t, query, "NullPointerException")
	assert.Contains(t, query, "fix")
	assert.Contains(t, query, "solution")
	assert.LessOrEqual(t, len(query), maxQueryLen)
}

func TestBuildQuery_Truncation(t *testing.T) {
	long := `ConfigurationError "` + strings.Repeat("x", 200) + `"`
	query := BuildQuery(long, "UNKNOWN")
	assert.LessOrEqual(t, len(query), maxQueryLen)
	assert.True(t, strings.HasSuffix(query, "..."))
}

func TestSnippets(t *testing.T) {
	snippets := Snippets([]Result{
		{Title: "A Fix", Snippet: "do   this"},
		{Snippet: "plain"},
		{},
	})
	require.Len(t, snippets, 2)
	assert.Equal(t, "A Fix. do this", snippets[0])
	assert.Equal(t, "plain", snippets[1])
}

// rewriteHost redirects any outbound request to the test server.
type hostRewriter struct {
	srv  *httptest.Server
	next http.RoundTripper
}

func rewriteHost(srv *httptest.Server) http.RoundTripper {
	return &hostRewriter{srv: srv, next: http.DefaultTransport}
}

func (h *hostRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	target, _ := req.URL.Parse(h.srv.URL)
	req.URL.Scheme = target.Scheme
	req.URL.Host = target.Host
	return h.next.RoundTrip(req)
}
