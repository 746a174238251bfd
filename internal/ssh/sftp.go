package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
)

// Upload copies a local file to remotePath on the session's host via SFTP and
// verifies the remote copy by SHA-256. A copy that fails verification is
// removed.
func (s *Session) Upload(ctx context.Context, localPath, remotePath string) error {
	sf, err := sftp.NewClient(s.client)
	if err != nil {
		return fmt.Errorf("sftp client: %w", err)
	}
	defer sf.Close()
	stop := context.AfterFunc(ctx, func() { _ = sf.Close() })
	defer stop()

	if err := sf.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("mkdir remote: %w", err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local: %w", err)
	}
	defer src.Close()

	want, err := copyToRemote(sf, src, remotePath)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	got, err := remoteChecksum(sf, remotePath)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if got != want {
		_ = sf.Remove(remotePath)
		return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", remotePath, want, got)
	}
	return nil
}

// copyToRemote writes src to remotePath and returns the hex SHA-256 of what
// was sent.
func copyToRemote(sf *sftp.Client, src *os.File, remotePath string) (string, error) {
	dst, err := sf.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("create remote: %w", err)
	}
	defer dst.Close()

	h := sha256.New()
	if _, err := io.Copy(dst, io.TeeReader(src, h)); err != nil {
		return "", fmt.Errorf("copy: %w", err)
	}
	if fi, err := src.Stat(); err == nil {
		_ = dst.Chmod(fi.Mode().Perm())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func remoteChecksum(sf *sftp.Client, remotePath string) (string, error) {
	f, err := sf.Open(remotePath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
