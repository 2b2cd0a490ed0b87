package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path/filepath"
	"sort"

	"github.com/MShekow/directory-checksum/directory_checksum"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/clouddeck/buildgate/pkg/api"
)

const hashConcurrency = 8

// File is one tracked file of a FileSet with its content digest.
type File struct {
	Path string
	Hash string
}

// FileSet is the canonically ordered collection of tracked files. The
// set must be closed over every file that affects build output: source
// files, the dependency manifest and the build recipe. Omitting one
// produces stale builds rather than crashes, so the enumeration is
// strict: a pattern matching nothing is a configuration error.
type FileSet []File

// Fingerprinter computes deterministic identities for tracked file sets.
type Fingerprinter struct {
	fs afero.Fs
}

func New(fs afero.Fs) *Fingerprinter {
	return &Fingerprinter{fs: fs}
}

// FileSet enumerates files under root matching the given patterns,
// hashes each file's content and returns the set in canonical
// (lexicographic by relative path) order. Enumeration order of the
// underlying filesystem never leaks into the result.
func (f *Fingerprinter) FileSet(ctx context.Context, root string, patterns []string) (FileSet, error) {
	seen := map[string]bool{}
	var paths []string
	for _, pattern := range patterns {
		matches, err := afero.Glob(f.fs, filepath.Join(root, pattern))
		if err != nil {
			return nil, api.NewError(api.KindConfiguration, "enumerate", pattern, errors.Wrapf(err, "bad tracked pattern"))
		}
		if len(matches) == 0 {
			return nil, api.NewError(api.KindConfiguration, "enumerate", pattern, errors.Errorf("tracked pattern matches no files under %q", root))
		}
		for _, m := range matches {
			rel, err := filepath.Rel(root, m)
			if err != nil {
				return nil, api.NewError(api.KindConfiguration, "enumerate", m, err)
			}
			if info, err := f.fs.Stat(m); err != nil {
				return nil, api.NewError(api.KindConfiguration, "enumerate", m, err)
			} else if info.IsDir() {
				continue
			}
			if !seen[rel] {
				seen[rel] = true
				paths = append(paths, rel)
			}
		}
	}
	sort.Strings(paths)

	set := make(FileSet, len(paths))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(hashConcurrency)
	for i, rel := range paths {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			sum, err := f.hashFile(filepath.Join(root, rel))
			if err != nil {
				return errors.Wrapf(err, "failed to hash %q", rel)
			}
			set[i] = File{Path: rel, Hash: sum}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, api.NewError(api.KindConfiguration, "hash", root, err)
	}
	return set, nil
}

// Fingerprint computes the aggregate digest of root's tracked files as
// lowercase hex. Byte-identical content always yields the identical
// fingerprint; any single-byte change in any tracked file changes it.
func (f *Fingerprinter) Fingerprint(ctx context.Context, root string, patterns []string) (string, error) {
	set, err := f.FileSet(ctx, root, patterns)
	if err != nil {
		return "", err
	}
	return set.Digest(), nil
}

// Digest combines the per-file digests of an already canonicalized set.
func (s FileSet) Digest() string {
	agg := sha256.New()
	for _, file := range s {
		agg.Write([]byte(file.Path))
		agg.Write([]byte{0})
		agg.Write([]byte(file.Hash))
		agg.Write([]byte{'\n'})
	}
	return hex.EncodeToString(agg.Sum(nil))
}

// Tree fingerprints every file under root. Used when no tracked
// patterns are configured.
func (f *Fingerprinter) Tree(root string) (string, error) {
	dir, err := directory_checksum.ScanDirectory(root, f.fs)
	if err != nil {
		return "", api.NewError(api.KindConfiguration, "enumerate", root, errors.Wrapf(err, "failed to scan directory"))
	}
	checksums, err := dir.ComputeDirectoryChecksums()
	if err != nil {
		return "", api.NewError(api.KindConfiguration, "hash", root, errors.Wrapf(err, "failed to calculate directory checksums"))
	}
	sum := sha256.Sum256([]byte(checksums))
	return hex.EncodeToString(sum[:]), nil
}

func (f *Fingerprinter) hashFile(path string) (string, error) {
	file, err := f.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = file.Close()
	}()
	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
