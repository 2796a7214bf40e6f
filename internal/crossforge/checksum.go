package crossforge

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"lukechampine.com/blake3"
)

// ManifestFile lists every toolchain file with its BLAKE3 sum.
const ManifestFile = "MANIFEST.b3"

// fileB3 returns the hex BLAKE3-256 digest of the file at path.
func fileB3(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// writeB3Sidecar writes "<sum>  <base name>" to path+".b3", the b3sum
// format, and returns the sum.
func writeB3Sidecar(path string) (string, error) {
	sum, err := fileB3(path)
	if err != nil {
		return "", err
	}
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(path))
	if err := os.WriteFile(path+".b3", []byte(line), 0o644); err != nil {
		return "", err
	}
	return sum, nil
}

// writeManifest hashes every regular file under root and writes the sorted
// list to root/MANIFEST.b3. Symlinks are listed by target instead of hashed.
func writeManifest(root string) (int, error) {
	var rels []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == ManifestFile {
			return nil
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return 0, err
	}
	sort.Strings(rels)

	f, err := os.Create(filepath.Join(root, ManifestFile))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	for _, rel := range rels {
		path := filepath.Join(root, rel)
		fi, err := os.Lstat(path)
		if err != nil {
			return 0, err
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return 0, err
			}
			fmt.Fprintf(w, "-> %s  %s\n", target, rel)
			continue
		}
		sum, err := fileB3(path)
		if err != nil {
			return 0, err
		}
		fmt.Fprintf(w, "%s  %s\n", sum, rel)
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}
	return len(rels), f.Close()
}
