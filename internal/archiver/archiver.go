// Package archiver streams a sequence job's member files into a single tar
// archive at its destination, the copeer analogue of the old copy-per-file
// job for promoted frame sequences.
package archiver

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ivoronin/copeer/internal/types"
)

// Archive writes every member of job into a tar file at destPath, reporting
// incremental progress (0-100, by bytes written) through publish. Archive
// names within the tar are relative to job.Dir, so extracting the archive
// reproduces the sequence's directory-local layout.
//
// Unlike copier.Copy, archiving never shells out: archive/tar gives a
// streaming writer with no external dependency, and sequence jobs are
// small-file-heavy workloads where process-spawn overhead per member would
// dominate.
func Archive(ctx context.Context, job *types.SequenceJob, destPath string, publish func(percent int)) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("archiver: mkdir destination: %w", err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("archiver: create %s: %w", destPath, err)
	}

	tw := tar.NewWriter(out)

	var written int64
	for _, member := range job.Members {
		if err := ctx.Err(); err != nil {
			return abort(tw, out, destPath, err)
		}
		n, err := appendMember(tw, job.Dir, member)
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "archiver: member not found, skipping: %s\n", member)
			continue
		}
		if err != nil {
			return abort(tw, out, destPath, fmt.Errorf("archiver: %s: %w", member, err))
		}
		written += n
		if job.Size > 0 && publish != nil {
			publish(int(written * 100 / job.Size))
		}
	}

	if err := tw.Close(); err != nil {
		return abort(tw, out, destPath, fmt.Errorf("archiver: finalize tar: %w", err))
	}
	if err := out.Sync(); err != nil {
		return abort(tw, out, destPath, fmt.Errorf("archiver: sync %s: %w", destPath, err))
	}
	if err := out.Close(); err != nil {
		return abort(tw, out, destPath, fmt.Errorf("archiver: close %s: %w", destPath, err))
	}
	if publish != nil {
		publish(100)
	}
	return nil
}

// abort closes the in-progress writers (best effort) and removes the
// partial tar at destPath before returning origErr, so a failed archive
// never leaves a truncated artifact behind.
func abort(tw *tar.Writer, out *os.File, destPath string, origErr error) error {
	_ = tw.Close()
	_ = out.Close()
	_ = os.Remove(destPath)
	return origErr
}

// appendMember writes one file's header and content into tw. The archive
// name is the member path made relative to dir (a member outside dir gets
// a "../" name), falling back to the base name if filepath.Rel fails, as it
// does when one of the two paths is absolute and the other relative.
func appendMember(tw *tar.Writer, dir, member string) (int64, error) {
	f, err := os.Open(member)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	name, err := filepath.Rel(dir, member)
	if err != nil {
		name = filepath.Base(member)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, err
	}
	hdr.Name = filepath.ToSlash(name)

	if err := tw.WriteHeader(hdr); err != nil {
		return 0, err
	}

	n, err := io.Copy(tw, f)
	if err != nil {
		return n, err
	}
	return n, nil
}
