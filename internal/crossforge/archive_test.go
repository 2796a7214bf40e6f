package crossforge

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func fakeToolchain(t *testing.T, cfg *Config) {
	t.Helper()
	root := cfg.ToolchainDir()
	writeFile(t, filepath.Join(root, "usr", "bin", "swiftc"), "compiler", 0o755)
	writeFile(t, filepath.Join(root, "usr", "lib", "libfoo.so.1"), "library", 0o644)
	require.NoError(t, os.Symlink("libfoo.so.1", filepath.Join(root, "usr", "lib", "libfoo.so")))
}

type archiveEntry struct {
	link    string
	content string
}

func readTar(t *testing.T, r io.Reader) map[string]archiveEntry {
	t.Helper()
	out := make(map[string]archiveEntry)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		require.Zero(t, hdr.Uid)
		require.Equal(t, "root", hdr.Uname)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = archiveEntry{link: hdr.Linkname, content: string(data)}
	}
}

func readArchive(t *testing.T, path, format string) map[string]archiveEntry {
	t.Helper()
	if format == "zip" {
		zr, err := zip.OpenReader(path)
		require.NoError(t, err)
		defer zr.Close()
		out := make(map[string]archiveEntry)
		for _, f := range zr.File {
			rc, err := f.Open()
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			rc.Close()
			require.NoError(t, err)
			e := archiveEntry{content: string(data)}
			if f.Mode()&os.ModeSymlink != 0 {
				e = archiveEntry{link: string(data)}
			}
			out[f.Name] = e
		}
		return out
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	switch format {
	case "zst":
		zr, err := zstd.NewReader(f)
		require.NoError(t, err)
		defer zr.Close()
		return readTar(t, zr)
	case "xz":
		xr, err := xz.NewReader(f)
		require.NoError(t, err)
		return readTar(t, xr)
	default:
		gr, err := pgzip.NewReader(f)
		require.NoError(t, err)
		defer gr.Close()
		return readTar(t, gr)
	}
}

func TestPackageStepFormats(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		format string
		ext    string
	}{
		{format: "zst", ext: ".tar.zst"},
		{format: "xz", ext: ".tar.xz"},
		{format: "gz", ext: ".tar.gz"},
		{format: "zip", ext: ".zip"},
	}
	for _, tc := range testCases {
		t.Run(tc.format, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t)
			cfg.Archive = ArchiveConfig{Format: tc.format, Name: "android-toolchain"}
			fakeToolchain(t, cfg)

			require.NoError(t, NewPackageStep().Run(context.Background(), cfg, discardLogger()))

			path := cfg.ArchivePath()
			require.Equal(t, "android-toolchain"+tc.ext, filepath.Base(path))

			entries := readArchive(t, path, tc.format)
			names := make([]string, 0, len(entries))
			for n := range entries {
				names = append(names, n)
			}
			sort.Strings(names)
			require.Equal(t, []string{
				"toolchain/",
				"toolchain/usr/",
				"toolchain/usr/bin/",
				"toolchain/usr/bin/swiftc",
				"toolchain/usr/lib/",
				"toolchain/usr/lib/libfoo.so",
				"toolchain/usr/lib/libfoo.so.1",
			}, names)
			require.Equal(t, "compiler", entries["toolchain/usr/bin/swiftc"].content)
			require.Equal(t, "libfoo.so.1", entries["toolchain/usr/lib/libfoo.so"].link)

			sum, err := fileB3(path)
			require.NoError(t, err)
			sidecar, err := os.ReadFile(path + ".b3")
			require.NoError(t, err)
			require.Equal(t, sum+"  "+filepath.Base(path)+"\n", string(sidecar))
		})
	}
}

func TestPackageStepWithoutToolchain(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	err := NewPackageStep().Run(context.Background(), cfg, discardLogger())
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "toolchain", pe.What)
}

func TestArchiveExt(t *testing.T) {
	t.Parallel()

	for format, want := range map[string]string{
		"zst": ".tar.zst", "zstd": ".tar.zst",
		"xz": ".tar.xz",
		"gz": ".tar.gz", "gzip": ".tar.gz",
		"zip": ".zip",
	} {
		got, err := archiveExt(format)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := archiveExt("rar")
	require.ErrorContains(t, err, `unsupported archive format "rar"`)
}

func TestTreeSize(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	fakeToolchain(t, cfg)
	size, err := treeSize(cfg.ToolchainDir())
	require.NoError(t, err)
	require.Equal(t, int64(len("compiler")+len("library")), size)
	require.True(t, strings.HasSuffix(cfg.ToolchainDir(), "toolchain"))
}
