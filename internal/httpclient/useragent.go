// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package httpclient

import (
	"fmt"
	"net/http"
	"os"
	"strings"
)

const (
	appendUaEnvVar = "HOTBUNDLE_APPEND_USER_AGENT"
	customUaEnvVar = "HOTBUNDLE_USER_AGENT"

	DefaultApplicationName = "hotbundle"
)

type userAgentRoundTripper struct {
	inner     http.RoundTripper
	userAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if _, ok := req.Header["User-Agent"]; !ok {
		req.Header.Set("User-Agent", rt.userAgent)
	}
	return rt.inner.RoundTrip(req)
}

// UserAgent returns the User-Agent string sent with bundle downloads.
//
// HOTBUNDLE_USER_AGENT replaces the default entirely, and
// HOTBUNDLE_APPEND_USER_AGENT adds a suffix to whichever of the two is in use.
func UserAgent(version string) string {
	ua := fmt.Sprintf("%s/%s", DefaultApplicationName, version)
	if custom := strings.TrimSpace(os.Getenv(customUaEnvVar)); custom != "" {
		ua = custom
	}

	if add := strings.TrimSpace(os.Getenv(appendUaEnvVar)); add != "" {
		ua += " " + add
	}

	return ua
}
