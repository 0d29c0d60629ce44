// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package httpclient

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opentofu/hotbundle/version"
)

func TestUserAgentAppendViaEnvVar(t *testing.T) {
	expectedBase := "hotbundle/" + version.Version

	testCases := []struct {
		envVarValue string
		expected    string
	}{
		{"", expectedBase},
		{" ", expectedBase},
		{" \n", expectedBase},
		{"test/1", expectedBase + " test/1"},
		{"test/1 (comment)", expectedBase + " test/1 (comment)"},
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Setenv(customUaEnvVar, "")
			t.Setenv(appendUaEnvVar, tc.envVarValue)
			givenUA := UserAgent(version.Version)
			if givenUA != tc.expected {
				t.Fatalf("Expected User-Agent '%s' does not match '%s'", tc.expected, givenUA)
			}
		})
	}
}

func TestCustomUserAgentAndAppendViaEnvVar(t *testing.T) {
	testCases := []struct {
		customUaValue string
		appendUaValue string
		expected      string
	}{
		{"", "", "hotbundle/0.0.0"},
		{"", " ", "hotbundle/0.0.0"},
		{"", "testy test", "hotbundle/0.0.0 testy test"},
		{"mobile-host", "", "mobile-host"},
		{"mobile-host", "ios/17", "mobile-host ios/17"},
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Setenv(customUaEnvVar, tc.customUaValue)
			t.Setenv(appendUaEnvVar, tc.appendUaValue)
			givenUA := UserAgent("0.0.0")
			if givenUA != tc.expected {
				t.Fatalf("Expected User-Agent '%s' does not match '%s'", tc.expected, givenUA)
			}
		})
	}
}

func TestNew_setsUserAgent(t *testing.T) {
	t.Setenv(customUaEnvVar, "")
	t.Setenv(appendUaEnvVar, "")

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	resp, err := New(t.Context()).Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	resp.Body.Close()

	if want := UserAgent(""); got[:len(DefaultApplicationName)] != DefaultApplicationName {
		t.Fatalf("wrong User-Agent %q; want prefix of %q", got, want)
	}
}
