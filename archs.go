package buildbtw

// ArchitectureAny is the wildcard architecture recipes may declare. It is
// never a value of ConcreteArchitecture: a recipe declaring it is expanded
// to every concrete architecture at query time (see
// SourceInfo.PackagesForArchitecture).
const ArchitectureAny = "any"

// ConcreteArchitecture is the closed enum of target CPUs this system builds
// for. It deliberately excludes the "any" wildcard.
type ConcreteArchitecture int

const (
	Aarch64 ConcreteArchitecture = iota
	Armv6h
	Armv7h
	I386
	I486
	I686
	Pentium4
	Riscv32
	Riscv64
	X86_64
	X86_64V2
	X86_64V3
	X86_64V4
)

// AllConcreteArchitectures lists every concrete architecture, in a stable
// order used wherever architectures need to be enumerated deterministically.
var AllConcreteArchitectures = []ConcreteArchitecture{
	Aarch64,
	Armv6h,
	Armv7h,
	I386,
	I486,
	I686,
	Pentium4,
	Riscv32,
	Riscv64,
	X86_64,
	X86_64V2,
	X86_64V3,
	X86_64V4,
}

func (a ConcreteArchitecture) String() string {
	switch a {
	case Aarch64:
		return "aarch64"
	case Armv6h:
		return "armv6h"
	case Armv7h:
		return "armv7h"
	case I386:
		return "i386"
	case I486:
		return "i486"
	case I686:
		return "i686"
	case Pentium4:
		return "pentium4"
	case Riscv32:
		return "riscv32"
	case Riscv64:
		return "riscv64"
	case X86_64:
		return "x86_64"
	case X86_64V2:
		return "x86_64_v2"
	case X86_64V3:
		return "x86_64_v3"
	case X86_64V4:
		return "x86_64_v4"
	default:
		return "unknown"
	}
}

// ParseConcreteArchitecture looks up the architecture matching s, as found
// in a recipe's arch = ... line.
func ParseConcreteArchitecture(s string) (ConcreteArchitecture, bool) {
	for _, a := range AllConcreteArchitectures {
		if a.String() == s {
			return a, true
		}
	}
	return 0, false
}
