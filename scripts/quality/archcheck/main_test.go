package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestViolationReason(t *testing.T) {
	tests := []struct {
		name     string
		importer string
		imported string
		want     string
	}{
		{name: "module importing pkg", importer: "fmgram/modules/lastfm", imported: "fmgram/pkg/lastfm"},
		{name: "cmd importing internal", importer: "fmgram/cmd/bot", imported: "fmgram/internal/kernel"},
		{
			name:     "module importing internal",
			importer: "fmgram/modules/help",
			imported: "fmgram/internal/driver",
			want:     "modules/* must not import internal/*",
		},
		{
			name:     "module importing service",
			importer: "fmgram/modules/housekeeping",
			imported: "fmgram/services/accounts",
			want:     "modules/* resolve services through the registry",
		},
		{
			name:     "kernel importing driver",
			importer: "fmgram/internal/kernel",
			imported: "fmgram/internal/driver/telegram",
			want:     "internal/kernel must not import internal/driver/*",
		},
		{
			name:     "cache importing gateway",
			importer: "fmgram/pkg/cache",
			imported: "fmgram/pkg/gateway",
			want:     "pkg/cache must not depend on its consumers",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := violationReason(testCase.importer, testCase.imported); got != testCase.want {
				t.Fatalf("violationReason(%q, %q) = %q, want %q", testCase.importer, testCase.imported, got, testCase.want)
			}
		})
	}
}

func TestCollectViolationsSortsAndDedups(t *testing.T) {
	t.Parallel()

	packages := []listedPackage{
		{
			ImportPath:  "fmgram/modules/help",
			Imports:     []string{"fmgram/internal/kernel", "fmgram/pkg/fmgram"},
			TestImports: []string{"fmgram/internal/kernel"},
		},
		{
			ImportPath: "fmgram/pkg/fmgram",
			Imports:    []string{"fmgram/internal/driver"},
		},
	}

	want := []string{
		"fmgram/modules/help -> fmgram/internal/kernel (modules/* must not import internal/*)",
		"fmgram/pkg/fmgram -> fmgram/internal/driver (pkg/* must not import internal/*)",
	}
	if diff := cmp.Diff(want, collectViolations(packages)); diff != "" {
		t.Fatalf("violations mismatch (-want +got):\n%s", diff)
	}
}
