package crossforge

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"

	"crossforge/internal/pipeline"
)

// PackageStepName is the step writing the toolchain archive.
const PackageStepName = "package-toolchain"

// archiveExt maps an archive format to its file extension.
func archiveExt(format string) (string, error) {
	switch format {
	case "zst", "zstd":
		return ".tar.zst", nil
	case "xz":
		return ".tar.xz", nil
	case "gz", "gzip":
		return ".tar.gz", nil
	case "zip":
		return ".zip", nil
	default:
		return "", fmt.Errorf("unsupported archive format %q (want zst, xz, gz or zip)", format)
	}
}

// PackageStep archives toolchain/ and writes a .b3 sidecar next to it.
type PackageStep struct {
	pipeline.Named
}

func NewPackageStep() *PackageStep {
	return &PackageStep{Named: pipeline.Named{StepName: PackageStepName}}
}

func (s *PackageStep) Run(_ context.Context, cfg *Config, logger *slog.Logger) error {
	src := cfg.ToolchainDir()
	if !dirExists(src) {
		return &PreconditionError{What: "toolchain", Path: src}
	}
	dst := cfg.ArchivePath()

	total, err := treeSize(src)
	if err != nil {
		return err
	}
	bar := newByteBar(total, "packaging")
	defer func() {
		_ = bar.Finish()
		consoleOwned.Store(false)
	}()

	logger.Info("packaging toolchain", "src", src, "dst", dst, "format", cfg.Archive.Format, "bytes", total)
	if err := writeArchive(src, dst, cfg.Archive.Format, bar); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("package toolchain: %w", err)
	}

	sum, err := writeB3Sidecar(dst)
	if err != nil {
		return err
	}
	logger.Info("archive written", "path", dst, "b3", sum)
	return nil
}

func newByteBar(total int64, desc string) *progressbar.ProgressBar {
	if isTerminal(os.Stdout) {
		consoleOwned.Store(true)
		fmt.Print("\r\033[K")
		return progressbar.DefaultBytes(total, desc)
	}
	return progressbar.DefaultBytesSilent(total, desc)
}

func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// writeArchive packs src into dst. File contents are also written to
// progress as they are read.
func writeArchive(src, dst, format string, progress io.Writer) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if format == "zip" {
		if err := writeZip(src, out, progress); err != nil {
			return err
		}
		return out.Close()
	}

	var cw io.WriteCloser
	switch format {
	case "zst", "zstd":
		cw, err = zstd.NewWriter(out)
	case "xz":
		cw, err = xz.NewWriter(out)
	case "gz", "gzip":
		cw = pgzip.NewWriter(out)
	default:
		_, err = archiveExt(format)
	}
	if err != nil {
		return err
	}

	if err := writeTar(src, cw, progress); err != nil {
		cw.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	return out.Close()
}

// writeTar stores the tree under a top-level directory named after src,
// with numeric root ownership and symlinks kept as links.
func writeTar(src string, w io.Writer, progress io.Writer) error {
	tw := tar.NewWriter(w)
	base := filepath.Base(src)

	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			if linkTarget, err = os.Readlink(path); err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
		}
		hdr, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(base, rel))
		if info.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "root", "root"

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyInto(tw, path, progress)
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

func writeZip(src string, w io.Writer, progress io.Writer) error {
	zw := zip.NewWriter(w)
	base := filepath.Base(src)

	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(base, rel))
		switch {
		case info.IsDir():
			hdr.Name += "/"
			_, err = zw.CreateHeader(hdr)
			return err
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			fw, err := zw.CreateHeader(hdr)
			if err != nil {
				return err
			}
			_, err = io.WriteString(fw, target)
			return err
		case info.Mode().IsRegular():
			hdr.Method = zip.Deflate
			fw, err := zw.CreateHeader(hdr)
			if err != nil {
				return err
			}
			return copyInto(fw, path, progress)
		default:
			return nil
		}
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

func copyInto(w io.Writer, path string, progress io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if progress != nil {
		w = io.MultiWriter(w, progress)
	}
	_, err = io.Copy(w, f)
	return err
}
