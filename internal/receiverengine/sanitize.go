package receiverengine

import (
	"fmt"
	"path/filepath"
	"strings"
)

const maxFileNameLength = 255

// sanitizeFileName derives a safe destination basename from the file name a
// sender advertised in metadata. A multicast peer is not a trusted
// authority over the receiver's filesystem, so the advertised name is
// validated rather than joined in as-is.
func sanitizeFileName(name string) (string, error) {
	base := filepath.Base(name)

	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("receiverengine: file name %q has no usable base name", name)
	}
	if len(base) > maxFileNameLength {
		return "", fmt.Errorf("receiverengine: file name exceeds max length %d", maxFileNameLength)
	}
	if strings.ContainsRune(base, 0) {
		return "", fmt.Errorf("receiverengine: file name contains null byte")
	}
	if base == ".." || strings.HasPrefix(base, "..") {
		return "", fmt.Errorf("receiverengine: file name %q contains path traversal", name)
	}

	return base, nil
}

// validatePathInDestDir is a defense-in-depth check that the resolved
// destination path did not escape destDir, independent of how it was
// built.
func validatePathInDestDir(destDir, resolvedPath string) error {
	absBase, err := filepath.Abs(destDir)
	if err != nil {
		return fmt.Errorf("receiverengine: resolving destination dir: %w", err)
	}
	absResolved, err := filepath.Abs(resolvedPath)
	if err != nil {
		return fmt.Errorf("receiverengine: resolving destination path: %w", err)
	}

	rel, err := filepath.Rel(absBase, absResolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("receiverengine: path %q escapes destination dir %q", resolvedPath, destDir)
	}
	return nil
}
