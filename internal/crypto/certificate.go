package crypto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoCertificate is returned when identity material is missing or empty.
var ErrNoCertificate = errors.New("certificate not found")

// CertificatePath is where a named identity lives by convention.
func CertificatePath(dir, name string) string {
	return filepath.Join(dir, name, name+"-private.pem")
}

// LoadCertificate reads the identity blob used for topic naming and frame
// keys. It is read once per process.
func LoadCertificate(path string) ([]byte, error) {
	if path == "" {
		return nil, ErrNoCertificate
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoCertificate, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoCertificate, path)
	}
	return b, nil
}
