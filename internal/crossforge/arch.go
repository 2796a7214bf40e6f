package crossforge

import (
	"fmt"
	"strings"
)

// Arch describes one Android target architecture.
type Arch struct {
	Name           string
	NDKABI         string
	NDKPlatform    string
	NDKLibArchName string
	ClangPrefix    string
	CFlags         string
	SwiftArch      string
	SwiftTarget    string
}

var (
	ArchARM64 = Arch{
		Name:           "aarch64",
		NDKABI:         "arm64-v8a",
		NDKPlatform:    "arch-arm64",
		NDKLibArchName: "aarch64-linux-android",
		ClangPrefix:    "aarch64-linux-android",
		SwiftArch:      "aarch64",
		SwiftTarget:    "aarch64-unknown-linux-android",
	}
	ArchARMv7 = Arch{
		Name:           "armv7a",
		NDKABI:         "armeabi-v7a",
		NDKPlatform:    "arch-arm",
		NDKLibArchName: "arm-linux-androideabi",
		ClangPrefix:    "armv7a-linux-androideabi",
		CFlags:         "-march=armv7-a -mfloat-abi=softfp -mfpu=vfpv3-d16",
		SwiftArch:      "armv7",
		SwiftTarget:    "armv7-unknown-linux-androideabi",
	}
	ArchX86 = Arch{
		Name:           "x86",
		NDKABI:         "x86",
		NDKPlatform:    "arch-x86",
		NDKLibArchName: "i686-linux-android",
		ClangPrefix:    "i686-linux-android",
		CFlags:         "-march=i686 -mssse3 -mfpmath=sse -m32",
		SwiftArch:      "i686",
		SwiftTarget:    "i686-unknown-linux-android",
	}
	ArchX86_64 = Arch{
		Name:           "x86_64",
		NDKABI:         "x86_64",
		NDKPlatform:    "arch-x86_64",
		NDKLibArchName: "x86_64-linux-android",
		ClangPrefix:    "x86_64-linux-android",
		CFlags:         "-march=x86-64",
		SwiftArch:      "x86_64",
		SwiftTarget:    "x86_64-unknown-linux-android",
	}
)

// AllArchs lists every supported target in build order.
var AllArchs = []Arch{ArchARM64, ArchARMv7, ArchX86, ArchX86_64}

// LookupArch finds an arch by name or NDK ABI.
func LookupArch(name string) (Arch, error) {
	for _, a := range AllArchs {
		if strings.EqualFold(a.Name, name) || strings.EqualFold(a.NDKABI, name) {
			return a, nil
		}
	}
	return Arch{}, fmt.Errorf("unsupported arch %q", name)
}

// ResolveArchs maps names to archs, defaulting to every arch when names is
// empty.
func ResolveArchs(names []string) ([]Arch, error) {
	if len(names) == 0 {
		return append([]Arch(nil), AllArchs...), nil
	}
	out := make([]Arch, 0, len(names))
	for _, n := range names {
		a, err := LookupArch(n)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
