// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		data       any
		wantStatus int
		wantBody   string
	}{
		{
			name:       "success with data",
			status:     http.StatusOK,
			data:       map[string]string{"message": "hello"},
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"hello"}`,
		},
		{
			name:       "nil data",
			status:     http.StatusNoContent,
			data:       nil,
			wantStatus: http.StatusNoContent,
			wantBody:   "",
		},
		{
			name:       "error status with data",
			status:     http.StatusBadRequest,
			data:       ErrorResponse{Error: "bad request"},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"bad request"}`,
		},
		{
			name:       "slice data",
			status:     http.StatusOK,
			data:       []int{1, 2, 3},
			wantStatus: http.StatusOK,
			wantBody:   `[1,2,3]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			RespondJSON(w, tt.status, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestRespondError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		message    string
		wantStatus int
	}{
		{
			name:       "bad request",
			status:     http.StatusBadRequest,
			message:    "invalid input",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "internal server error",
			status:     http.StatusInternalServerError,
			message:    "something went wrong",
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "not found",
			status:     http.StatusNotFound,
			message:    "resource not found",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			RespondError(w, tt.status, tt.message)

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp ErrorResponse
			err := json.NewDecoder(w.Body).Decode(&resp)
			require.NoError(t, err)
			assert.Equal(t, tt.message, resp.Error)
		})
	}
}

func TestRespondText(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	RespondText(w, http.StatusOK, "Torrent is valid")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "Torrent is valid", w.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type testStruct struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name       string
		body       string
		wantOK     bool
		wantResult testStruct
	}{
		{
			name:       "valid JSON",
			body:       `{"name":"test","value":42}`,
			wantOK:     true,
			wantResult: testStruct{Name: "test", Value: 42},
		},
		{
			name:   "invalid JSON",
			body:   `{invalid}`,
			wantOK: false,
		},
		{
			name:   "empty body",
			body:   "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			var result testStruct
			ok := DecodeJSON(w, req, &result)

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantResult, result)
			} else {
				assert.Equal(t, http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestParsePagination(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		query        string
		defaultLimit int
		maxLimit     int
		wantLimit    int
		wantOffset   int
	}{
		{
			name:         "defaults when no params",
			query:        "",
			defaultLimit: 100,
			maxLimit:     1000,
			wantLimit:    100,
			wantOffset:   0,
		},
		{
			name:         "custom limit and offset",
			query:        "?limit=50&offset=10",
			defaultLimit: 100,
			maxLimit:     1000,
			wantLimit:    50,
			wantOffset:   10,
		},
		{
			name:         "limit capped at max",
			query:        "?limit=2000",
			defaultLimit: 100,
			maxLimit:     1000,
			wantLimit:    1000,
			wantOffset:   0,
		},
		{
			name:         "invalid limit uses default",
			query:        "?limit=abc",
			defaultLimit: 100,
			maxLimit:     1000,
			wantLimit:    100,
			wantOffset:   0,
		},
		{
			name:         "negative limit uses default",
			query:        "?limit=-5",
			defaultLimit: 100,
			maxLimit:     1000,
			wantLimit:    100,
			wantOffset:   0,
		},
		{
			name:         "negative offset uses default",
			query:        "?offset=-5",
			defaultLimit: 100,
			maxLimit:     1000,
			wantLimit:    100,
			wantOffset:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest("GET", "/"+tt.query, nil)
			params := ParsePagination(req, tt.defaultLimit, tt.maxLimit)

			assert.Equal(t, tt.wantLimit, params.Limit)
			assert.Equal(t, tt.wantOffset, params.Offset)
		})
	}
}

func TestQueryHelpers(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest("GET", "/?season=2&bad=x&flag=true", nil)

	assert.Equal(t, 2, queryInt(req, "season"))
	assert.Equal(t, 0, queryInt(req, "bad"))
	assert.Equal(t, 0, queryInt(req, "missing"))

	require.NotNil(t, queryIntPtr(req, "season"))
	assert.Equal(t, 2, *queryIntPtr(req, "season"))
	assert.Nil(t, queryIntPtr(req, "bad"))
	assert.Nil(t, queryIntPtr(req, "missing"))

	assert.True(t, queryBool(req, "flag"))
	assert.False(t, queryBool(req, "bad"))
	assert.False(t, queryBool(req, "missing"))
}

func TestQueryExternalID(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest("GET", "/?tmdbid=550&bad=notanumber&zero=0&negative=-5", nil)

	id, ok := queryExternalID(req, "tmdbid")
	assert.True(t, ok)
	assert.Equal(t, 550, id)

	id, ok = queryExternalID(req, "missing")
	assert.True(t, ok, "an absent id is not an error")
	assert.Equal(t, 0, id)

	for _, name := range []string{"bad", "zero", "negative"} {
		_, ok := queryExternalID(req, name)
		assert.False(t, ok, "%s should be rejected", name)
	}
}

func TestParseIMDBID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"tt0137523", 137523, true},
		{"0137523", 137523, true},
		{"", 0, true},
		{"garbage", 0, false},
		{"ab12cd", 0, false},
		{"tt", 0, false},
		{"-5", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseIMDBID(tt.in)
		assert.Equal(t, tt.wantOK, ok, "parseIMDBID(%q)", tt.in)
		assert.Equal(t, tt.want, got, "parseIMDBID(%q)", tt.in)
	}
}

func TestDigitsOnly(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0137523", digitsOnly("tt0137523"))
	assert.Equal(t, "0137523", digitsOnly("0137523"))
	assert.Equal(t, "", digitsOnly("none"))
	assert.Equal(t, "", digitsOnly(""))
}
