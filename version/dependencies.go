// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package version

import "runtime/debug"

// See the docs for InterestingDependencies to understand what "interesting" is
// intended to mean here. We should keep this set relatively small to avoid
// bloating the logs too much.
var interestingDependencies = map[string]struct{}{
	"github.com/hashicorp/go-getter":        {},
	"github.com/hashicorp/go-retryablehttp": {},
	"github.com/ProtonMail/go-crypto":       {},
	"github.com/spf13/afero":                {},
	"github.com/hashicorp/hcl/v2":           {},
}

// InterestingDependencies returns the compiled-in module version info for
// the small number of dependencies whose behavior most directly affects how
// bundles are fetched, authenticated and stored. The CLI logs these at
// startup so that bug reports can be cross-referenced with dependency
// changelogs.
func InterestingDependencies() []*debug.Module {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		// Weird to not be built in module mode, but not a big deal.
		return nil
	}

	ret := make([]*debug.Module, 0, len(interestingDependencies))

	for _, mod := range info.Deps {
		if _, ok := interestingDependencies[mod.Path]; !ok {
			continue
		}
		if mod.Replace != nil {
			mod = mod.Replace
		}
		ret = append(ret, mod)
	}

	return ret
}
