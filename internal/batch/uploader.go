package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	pkgerrors "eppd/pkg/errors"
)

// DirUploader writes deposits into a local drop directory. An external
// shipper owns the actual SFTP session with the escrow provider; this
// process only has to hand over complete files atomically.
type DirUploader struct {
	dir string
}

// NewDirUploader builds an uploader rooted at dir, creating it if missing.
func NewDirUploader(dir string) (*DirUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "creating escrow drop directory")
	}
	return &DirUploader{dir: dir}, nil
}

// Upload writes the deposit under a temporary name and renames it into
// place, so the shipper never sees a partial file.
func (u *DirUploader) Upload(_ context.Context, scope string, watermark time.Time, deposit []byte) error {
	name := depositName(scope, watermark)
	tmp := filepath.Join(u.dir, name+".tmp")
	if err := os.WriteFile(tmp, deposit, 0o644); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "writing deposit")
	}
	if err := os.Rename(tmp, filepath.Join(u.dir, name)); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "publishing deposit")
	}
	return nil
}

// Report records the completed watermark next to the deposits.
func (u *DirUploader) Report(_ context.Context, scope string, watermark time.Time) error {
	path := filepath.Join(u.dir, scope+".report")
	line := watermark.UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "writing report marker")
	}
	return nil
}

func depositName(scope string, watermark time.Time) string {
	return fmt.Sprintf("%s_%s.json", scope, watermark.UTC().Format("2006-01-02T15-04-05"))
}
