package connection

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"orderbot_backend/platform/config"
	"orderbot_backend/platform/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const backupObjectName = "session-backup.tar.gz"

// Backup snapshots the session directory to object storage so a lost
// primary can be restored without re-pairing.
type Backup struct {
	client  *minio.Client
	bucket  string
	session *SessionStore
	log     *logger.Logger
}

// NewBackup creates a backup service. Returns nil when object storage is
// not configured; backups are optional.
func NewBackup(cfg config.BackupConfig, session *SessionStore, log *logger.Logger) (*Backup, error) {
	if !cfg.IsBackupEnabled() {
		return nil, nil
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("create backup client: %w", err)
	}

	return &Backup{
		client:  client,
		bucket:  cfg.GetMinioBucketSessionBackups(),
		session: session,
		log:     log,
	}, nil
}

// EnsureBucket creates the backup bucket if it does not exist.
func (b *Backup) EnsureBucket(ctx context.Context) error {
	if b == nil {
		return nil
	}

	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("check backup bucket: %w", err)
	}
	if !exists {
		if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create backup bucket %s: %w", b.bucket, err)
		}
	}
	return nil
}

// Snapshot archives the session directory and uploads it, replacing the
// previous snapshot.
func (b *Backup) Snapshot(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if !b.session.Exists() {
		return nil
	}

	archive, err := os.CreateTemp("", "session-backup-*.tar.gz")
	if err != nil {
		return fmt.Errorf("create backup archive: %w", err)
	}
	defer func() {
		_ = archive.Close()
		_ = os.Remove(archive.Name())
	}()

	if err := tarDirectory(b.session.Dir(), archive); err != nil {
		return fmt.Errorf("archive session: %w", err)
	}

	info, err := archive.Stat()
	if err != nil {
		return fmt.Errorf("stat backup archive: %w", err)
	}
	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind backup archive: %w", err)
	}

	_, err = b.client.PutObject(ctx, b.bucket, backupObjectName, archive, info.Size(),
		minio.PutObjectOptions{ContentType: "application/gzip"})
	if err != nil {
		return fmt.Errorf("upload session backup: %w", err)
	}

	b.log.Info("session backup uploaded", "bucket", b.bucket, "bytes", info.Size())
	return nil
}

// RestoreIfMissing downloads and unpacks the latest snapshot when no session
// directory exists. A failed restore is non-fatal: the system simply
// re-pairs from scratch.
func (b *Backup) RestoreIfMissing(ctx context.Context) {
	if b == nil || b.session.Exists() {
		return
	}

	obj, err := b.client.GetObject(ctx, b.bucket, backupObjectName, minio.GetObjectOptions{})
	if err != nil {
		b.log.Warn("session restore unavailable", "error", err.Error())
		return
	}
	defer func() {
		_ = obj.Close()
	}()

	if err := untarDirectory(obj, b.session.Dir()); err != nil {
		// Leave nothing half-restored behind.
		_ = os.RemoveAll(b.session.Dir())
		b.log.Warn("session restore failed, will re-pair", "error", err.Error())
		return
	}

	b.log.Info("session restored from backup", "dir", b.session.Dir())
}

func tarDirectory(dir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer func() {
			_ = f.Close()
		}()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func untarDirectory(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer func() {
		_ = gz.Close()
	}()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dir, filepath.FromSlash(header.Name))
		if !filepath.IsLocal(header.Name) {
			return fmt.Errorf("archive entry escapes target dir: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}
