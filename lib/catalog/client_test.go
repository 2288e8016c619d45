/*
 * Quilt MCP Server
 * Copyright (C) 2025  Quilt Data, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{CatalogURL: srv.URL})
	require.NoError(t, err)
	return client
}

func TestGraphQL(t *testing.T) {
	var gotAuth string
	var gotBody graphQLRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/graphql", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"data":{"bucketConfigs":[{"name":"demo"}]}}`))
	}))

	data, err := client.GraphQL(context.Background(), "tok-1",
		`query { bucketConfigs { name } }`, map[string]any{"first": 10})
	require.NoError(t, err)
	require.JSONEq(t, `{"bucketConfigs":[{"name":"demo"}]}`, string(data))
	require.Equal(t, "Bearer tok-1", gotAuth)
	require.Equal(t, map[string]any{"first": float64(10)}, gotBody.Variables)
}

func TestGraphQLErrorMapping(t *testing.T) {
	t.Run("unauthorized becomes access denied", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"errors":[{"message":"Unauthorized: admin required"}]}`))
		}))
		_, err := client.GraphQL(context.Background(), "tok", "query { admin }", nil)
		require.True(t, trace.IsAccessDenied(err))
	})

	t.Run("other errors become bad parameter", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"errors":[{"message":"Cannot query field \"bogus\""},{"message":"second"}]}`))
		}))
		_, err := client.GraphQL(context.Background(), "tok", "query { bogus }", nil)
		require.True(t, trace.IsBadParameter(err))
		require.Contains(t, err.Error(), "bogus")
		require.Contains(t, err.Error(), "second")
	})

	t.Run("malformed body", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>gateway error</html>`))
		}))
		_, err := client.GraphQL(context.Background(), "tok", "query { x }", nil)
		require.Error(t, err)
	})
}

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, trace.IsAccessDenied},
		{http.StatusForbidden, trace.IsAccessDenied},
		{http.StatusNotFound, trace.IsNotFound},
		{http.StatusMethodNotAllowed, trace.IsNotImplemented},
		{http.StatusInternalServerError, trace.IsConnectionProblem},
		{http.StatusBadGateway, trace.IsConnectionProblem},
		{http.StatusTeapot, trace.IsBadParameter},
	}
	for _, tt := range tests {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		_, err := client.GraphQL(context.Background(), "tok", "query { x }", nil)
		require.Error(t, err, "status %d", tt.status)
		require.True(t, tt.check(err), "status %d mapped to %v", tt.status, err)
	}
}

func TestGetCredentials(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/get_credentials", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"AccessKeyId": "AKIAEXAMPLE",
			"SecretAccessKey": "secret",
			"SessionToken": "session",
			"Expiration": "2025-06-01T12:00:00Z"
		}`))
	}))

	bundle, err := client.GetCredentials(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Equal(t, "AKIAEXAMPLE", bundle.AccessKeyID)
	require.Equal(t, "session", bundle.SessionToken)
	require.False(t, bundle.Expiration.IsZero())
}

func TestGetCredentialsIncompleteBundle(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"AccessKeyId": "AKIAEXAMPLE"}`))
	}))
	_, err := client.GetCredentials(context.Background(), "tok-1")
	require.True(t, trace.IsBadParameter(err))

	_, err = client.GetCredentials(context.Background(), "")
	require.True(t, trace.IsBadParameter(err))
}

func TestGetPublicConfig(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/config.json", r.URL.Path)
		require.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"region": "us-east-1",
			"analyticsBucket": "acme-analyticsbucket-1a2b3c",
			"registryUrl": "https://registry.acme.quiltdata.com",
			"s3Proxy": "https://s3-proxy.acme.quiltdata.com"
		}`))
	}))

	pc, err := client.GetPublicConfig(context.Background())
	require.NoError(t, err)
	require.Equal(t, "us-east-1", pc.Region)
	require.Equal(t, "quilt-acme-tabulator", pc.TabulatorDatabase())
}

func TestTabulatorDatabaseDerivation(t *testing.T) {
	tests := []struct {
		bucket string
		want   string
	}{
		{"acme-analyticsbucket-1a2b3c", "quilt-acme-tabulator"},
		{"prod-stack-analyticsbucket-xyz", "quilt-prod-stack-tabulator"},
		{"acme-other", "quilt-acme-tabulator"},
		{"", ""},
	}
	for _, tt := range tests {
		pc := PublicConfig{AnalyticsBucket: tt.bucket}
		require.Equal(t, tt.want, pc.TabulatorDatabase(), "bucket %q", tt.bucket)
	}
}

func TestREST(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/users/list", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"results":[{"name":"alice"}]}`))
	}))

	var out struct {
		Results []struct {
			Name string `json:"name"`
		} `json:"results"`
	}
	err := client.REST(context.Background(), "tok", http.MethodGet, "/api/users/list", nil, &out)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	require.Equal(t, "alice", out.Results[0].Name)
}

func TestConfigDefaults(t *testing.T) {
	_, err := NewClient(Config{})
	require.True(t, trace.IsBadParameter(err))

	client, err := NewClient(Config{CatalogURL: "https://demo.quiltdata.com/"})
	require.NoError(t, err)
	require.Equal(t, "https://demo.quiltdata.com", client.CatalogURL())
	require.Equal(t, "https://demo.quiltdata.com", client.RegistryURL())
}
