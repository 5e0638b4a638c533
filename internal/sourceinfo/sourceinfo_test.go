package sourceinfo

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/buildbtw/buildbtw"
)

func TestParseSinglePackage(t *testing.T) {
	const data = `pkgbase = alpha
	pkgver = 1.2.3
	pkgrel = 1
	arch = x86_64
	arch = aarch64
	depends = glibc
	depends = zlib>=1.2.11

pkgname = alpha
`
	si, err := Parse([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if si.Base.Name != "alpha" {
		t.Fatalf("pkgbase = %q, want alpha", si.Base.Name)
	}
	if len(si.Packages) != 1 || si.Packages[0].Name != "alpha" {
		t.Fatalf("packages = %+v", si.Packages)
	}
	want := []Dependency{{Raw: "glibc"}, {Raw: "zlib>=1.2.11"}}
	if diff := cmp.Diff(want, si.Base.Dependencies); diff != "" {
		t.Errorf("base dependencies mismatch (-want +got):\n%s", diff)
	}
}

func TestParseImplicitSinglePackage(t *testing.T) {
	// A recipe with no pkgname block at all inherits the base name and
	// dependencies as its sole package.
	const data = `pkgbase = beta
	pkgver = 2.0
	pkgrel = 1
	arch = any
	depends = coreutils
`
	si, err := Parse([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(si.Packages) != 1 {
		t.Fatalf("packages = %+v, want 1", si.Packages)
	}
	pkg := si.Packages[0]
	if pkg.Name != "beta" {
		t.Fatalf("pkgname = %q, want beta", pkg.Name)
	}
	if len(pkg.Dependencies) != 1 || pkg.Dependencies[0].Raw != "coreutils" {
		t.Fatalf("dependencies = %+v", pkg.Dependencies)
	}
}

func TestParseSplitPackages(t *testing.T) {
	const data = `pkgbase = gamma
	pkgver = 1.0
	pkgrel = 1
	arch = x86_64

pkgname = gamma
	depends = gamma-libs

pkgname = gamma-doc
	arch = any
	depends = gamma=1.0
`
	si, err := Parse([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(si.Packages) != 2 {
		t.Fatalf("packages = %+v, want 2", si.Packages)
	}

	gamma := si.Packages[0]
	if gamma.Name != "gamma" {
		t.Fatalf("packages[0].Name = %q, want gamma", gamma.Name)
	}
	if EffectiveArchitectures(gamma, si.Base); len(EffectiveArchitectures(gamma, si.Base)) != 1 || EffectiveArchitectures(gamma, si.Base)[0] != "x86_64" {
		t.Fatalf("gamma effective arches = %v", EffectiveArchitectures(gamma, si.Base))
	}

	doc := si.Packages[1]
	if doc.Name != "gamma-doc" {
		t.Fatalf("packages[1].Name = %q, want gamma-doc", doc.Name)
	}
	if got := EffectiveArchitectures(doc, si.Base); len(got) != 1 || got[0] != buildbtw.ArchitectureAny {
		t.Fatalf("gamma-doc effective arches = %v", got)
	}
}

func TestPackagesForArchitecture(t *testing.T) {
	const data = `pkgbase = gamma
	pkgver = 1.0
	pkgrel = 1
	arch = x86_64

pkgname = gamma

pkgname = gamma-doc
	arch = any
`
	si, err := Parse([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	x86 := PackagesForArchitecture(si, buildbtw.X86_64)
	if len(x86) != 2 {
		t.Fatalf("PackagesForArchitecture(x86_64) = %+v, want both packages", x86)
	}
	aarch64 := PackagesForArchitecture(si, buildbtw.Aarch64)
	if len(aarch64) != 1 || aarch64[0].Name != "gamma-doc" {
		t.Fatalf("PackagesForArchitecture(aarch64) = %+v, want only gamma-doc", aarch64)
	}
}

func TestStripVersionConstraint(t *testing.T) {
	cases := map[string]buildbtw.Pkgname{
		"glibc":        "glibc",
		"zlib>=1.2.11": "zlib",
		"foo=1.0":      "foo",
		"bar<2":        "bar",
	}
	for in, want := range cases {
		if got := StripVersionConstraint(in); got != want {
			t.Errorf("StripVersionConstraint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSonameDependencyDetected(t *testing.T) {
	const data = `pkgbase = delta
	pkgver = 1.0
	pkgrel = 1
	arch = x86_64
	depends = libfoo.so=1-64
	depends = libbar

pkgname = delta
`
	si, err := Parse([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(si.Base.Dependencies) != 2 {
		t.Fatalf("dependencies = %+v", si.Base.Dependencies)
	}
	if !si.Base.Dependencies[0].Soname {
		t.Errorf("libfoo.so dependency not marked soname")
	}
	if si.Base.Dependencies[1].Soname {
		t.Errorf("libbar dependency wrongly marked soname")
	}
}

func TestParseMissingPkgbase(t *testing.T) {
	if _, err := Parse([]byte("pkgver = 1.0\n")); err == nil {
		t.Fatal("expected error for missing pkgbase")
	}
}
