// Package sourceinfo parses the machine-readable projection of a source
// recipe (a ".SRCINFO"-style file) into the base/package/dependency model
// described by the pacman SRCINFO format: a base section followed by one
// block per split package, each block a flat sequence of "key = value"
// lines, blocks separated by a blank line.
package sourceinfo

import (
	"bufio"
	"strings"

	"golang.org/x/xerrors"

	"github.com/buildbtw/buildbtw"
)

// Dependency is one dependency relation of a split package: either a
// package relation (a pkgname with an optional version constraint) or a
// soname-based relation, which the dependency graph builder ignores (see
// the "Soname dependencies are ignored" design note).
type Dependency struct {
	Raw    string
	Soname bool
}

// StrippedName returns the dependency's pkgname with any trailing version
// constraint (=, <, >) removed.
func (d Dependency) StrippedName() buildbtw.Pkgname {
	return StripVersionConstraint(d.Raw)
}

// StripVersionConstraint strips a dependency name at the first =, < or >
// character. This is lossy: a future solver upgrade may want to preserve
// the constraint instead of discarding it here.
func StripVersionConstraint(name string) buildbtw.Pkgname {
	if i := strings.IndexAny(name, "=<>"); i >= 0 {
		return buildbtw.Pkgname(name[:i])
	}
	return buildbtw.Pkgname(name)
}

func isSoname(raw string) bool {
	return strings.Contains(raw, ".so")
}

// Base is the base section of a recipe: the source package's identity,
// version, and default architecture list.
type Base struct {
	Name         buildbtw.Pkgbase
	Version      string
	Release      string
	Epoch        string
	Architectures []string
	Dependencies []Dependency
}

// Package is one split package produced by a recipe.
type Package struct {
	Name buildbtw.Pkgname
	// Architectures is nil when the package inherits the base's
	// architecture list.
	Architectures []string
	Dependencies  []Dependency
}

// SourceInfo is the parsed form of a recipe.
type SourceInfo struct {
	Base     Base
	Packages []Package
}

// EffectiveArchitectures returns p's architecture list, falling back to
// base's when p does not declare an override.
func EffectiveArchitectures(p Package, base Base) []string {
	if p.Architectures != nil {
		return p.Architectures
	}
	return base.Architectures
}

// PackagesForArchitecture returns the split packages whose effective
// architecture set contains arch or the "any" wildcard.
func PackagesForArchitecture(si *SourceInfo, arch buildbtw.ConcreteArchitecture) []Package {
	archStr := arch.String()
	var out []Package
	for _, p := range si.Packages {
		for _, e := range EffectiveArchitectures(p, si.Base) {
			if e == archStr || e == buildbtw.ArchitectureAny {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

type block struct {
	lines [][2]string // key, value, in file order
}

func splitBlocks(data string) []block {
	var blocks []block
	var cur block
	scanner := bufio.NewScanner(strings.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			if len(cur.lines) > 0 {
				blocks = append(blocks, cur)
				cur = block{}
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue // malformed line, ignore
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		cur.lines = append(cur.lines, [2]string{key, value})
	}
	if len(cur.lines) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

func parseDependencies(b block, key string) []Dependency {
	var deps []Dependency
	for _, kv := range b.lines {
		if kv[0] != key {
			continue
		}
		deps = append(deps, Dependency{Raw: kv[1], Soname: isSoname(kv[1])})
	}
	return deps
}

var dependencyKeys = []string{"depends", "makedepends", "checkdepends"}

func parseAllDependencies(b block) []Dependency {
	var deps []Dependency
	for _, key := range dependencyKeys {
		deps = append(deps, parseDependencies(b, key)...)
	}
	return deps
}

func parseBase(b block) (Base, error) {
	var base Base
	for _, kv := range b.lines {
		switch kv[0] {
		case "pkgbase":
			base.Name = buildbtw.Pkgbase(kv[1])
		case "pkgver":
			base.Version = kv[1]
		case "pkgrel":
			base.Release = kv[1]
		case "epoch":
			base.Epoch = kv[1]
		case "arch":
			base.Architectures = append(base.Architectures, kv[1])
		}
	}
	if base.Name == "" {
		return Base{}, xerrors.New("sourceinfo: missing pkgbase")
	}
	base.Dependencies = parseAllDependencies(b)
	return base, nil
}

func parsePackage(b, baseBlock block) (Package, error) {
	var pkg Package
	var archSeen bool
	for _, kv := range b.lines {
		switch kv[0] {
		case "pkgname":
			pkg.Name = buildbtw.Pkgname(kv[1])
		case "arch":
			archSeen = true
			pkg.Architectures = append(pkg.Architectures, kv[1])
		}
	}
	if pkg.Name == "" {
		return Package{}, xerrors.New("sourceinfo: pkgname block missing pkgname")
	}
	if !archSeen {
		pkg.Architectures = nil
	}
	for _, key := range dependencyKeys {
		deps := parseDependencies(b, key)
		if len(deps) == 0 {
			// A split package declaring no relations of this kind inherits
			// the base section's.
			deps = parseDependencies(baseBlock, key)
		}
		pkg.Dependencies = append(pkg.Dependencies, deps...)
	}
	return pkg, nil
}

// Parse parses the textual contents of a .SRCINFO-style recipe.
func Parse(data []byte) (*SourceInfo, error) {
	blocks := splitBlocks(string(data))
	if len(blocks) == 0 {
		return nil, xerrors.New("sourceinfo: empty recipe")
	}
	base, err := parseBase(blocks[0])
	if err != nil {
		return nil, xerrors.Errorf("sourceinfo: parsing base: %w", err)
	}
	si := &SourceInfo{Base: base}
	for _, b := range blocks[1:] {
		pkg, err := parsePackage(b, blocks[0])
		if err != nil {
			return nil, xerrors.Errorf("sourceinfo: parsing package: %w", err)
		}
		si.Packages = append(si.Packages, pkg)
	}
	if len(si.Packages) == 0 {
		// A recipe producing a single package whose name matches the
		// pkgbase does not repeat a pkgname block.
		si.Packages = []Package{{
			Name:         buildbtw.Pkgname(base.Name),
			Dependencies: base.Dependencies,
		}}
	}
	return si, nil
}
