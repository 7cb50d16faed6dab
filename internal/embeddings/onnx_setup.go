//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ONNXRuntimeVersion is the ONNX runtime release fastembed-go loads.
const ONNXRuntimeVersion = "1.23.0"

// onnxSubdir is where the runtime lives inside the embeddings cache dir.
const onnxSubdir = "onnxruntime"

// ErrUnsupportedPlatform indicates the current OS/arch has no ONNX release.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// onnxArchives maps GOOS/GOARCH to ONNX release archive names.
var onnxArchives = map[string]string{
	"linux/amd64":  "linux-x64",
	"linux/arm64":  "linux-aarch64",
	"darwin/amd64": "osx-x86_64",
	"darwin/arm64": "osx-arm64",
}

const onnxReleaseURL = "https://github.com/microsoft/onnxruntime/releases/download/v%[1]s/onnxruntime-%[2]s-%[1]s.tgz"

func onnxArchive(goos, goarch string) (string, error) {
	if a, ok := onnxArchives[goos+"/"+goarch]; ok {
		return a, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

func onnxLibraryName(goos string) string {
	if goos == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

// ONNXLibraryPath returns the ONNX_PATH override, else the runtime installed
// under cacheDir, else "".
func ONNXLibraryPath(cacheDir string) string {
	if p := os.Getenv("ONNX_PATH"); p != "" {
		return p
	}
	if cacheDir == "" {
		return ""
	}
	p := filepath.Join(cacheDir, onnxSubdir, onnxLibraryName(runtime.GOOS))
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// InstallONNXRuntime downloads the runtime into cacheDir. The archive is
// unpacked into a staging directory and renamed into place, so a failed
// download never leaves a partial install behind.
func InstallONNXRuntime(ctx context.Context, cacheDir string) error {
	platform, err := onnxArchive(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	staging, err := os.MkdirTemp(cacheDir, onnxSubdir+"-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	url := fmt.Sprintf(onnxReleaseURL, ONNXRuntimeVersion, platform)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading ONNX runtime: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading ONNX runtime: status %d", resp.StatusCode)
	}

	prefix := fmt.Sprintf("onnxruntime-%s-%s/lib/", platform, ONNXRuntimeVersion)
	if err := unpackLibrary(resp.Body, staging, prefix, onnxLibraryName(runtime.GOOS)); err != nil {
		return fmt.Errorf("extracting archive: %w", err)
	}

	dest := filepath.Join(cacheDir, onnxSubdir)
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("removing old runtime: %w", err)
	}
	return os.Rename(staging, dest)
}

// unpackLibrary copies the entries of a gzipped tarball under prefix into
// dir, flattening paths and keeping symlinks. It fails unless libName (or a
// versioned variant of it) was among them.
func unpackLibrary(r io.Reader, dir, prefix, libName string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	found := false
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		base := filepath.Base(name)
		dest := filepath.Join(dir, base)

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			_ = os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				continue
			}
		case tar.TypeReg:
			if err := writeFile(dest, tr); err != nil {
				return err
			}
		default:
			continue
		}
		if base == libName || strings.HasPrefix(base, libName+".") {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("library %s not found in archive", libName)
	}
	return nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// setONNXPathEnv points fastembed-go at the runtime library.
var setONNXPathEnv = func(path string) error {
	return os.Setenv("ONNX_PATH", path)
}

// EnsureONNXRuntime returns the runtime library path, installing the runtime
// under cacheDir first when it is missing.
func EnsureONNXRuntime(ctx context.Context, cacheDir string, logger *zap.Logger) (string, error) {
	if path := ONNXLibraryPath(cacheDir); path != "" {
		return path, nil
	}

	logger.Info("ONNX runtime not found, downloading",
		zap.String("version", ONNXRuntimeVersion),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH),
		zap.String("dir", cacheDir))

	if err := InstallONNXRuntime(ctx, cacheDir); err != nil {
		return "", fmt.Errorf("failed to install ONNX runtime (set ONNX_PATH to use an existing install): %w", err)
	}
	path := ONNXLibraryPath(cacheDir)
	if path == "" {
		return "", errors.New("ONNX runtime installed but library not found")
	}

	logger.Info("ONNX runtime installed", zap.String("path", path))
	return path, nil
}
