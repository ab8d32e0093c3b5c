// SPDX-License-Identifier: MPL-2.0

package k8s

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/xec-sh/xec/pkg/adapter"
)

// CopyTo streams localPath into remotePath inside pod by tarring it
// locally and extracting the archive with `tar -xmf - -C <dir>` on the remote side,
// per spec.md §4.7 — the transfer is atomic per file since tar either
// writes a complete entry or none.
func (a *Adapter) CopyTo(ctx context.Context, pod string, opts CommandOptions, localPath, remotePath string) error {
	namespace := opts.namespace(a.opts.Namespace)

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(tarFile(pw, localPath, filepath.Base(remotePath)))
	}()

	remoteDir := filepath.Dir(remotePath)
	argv := []string{"tar", "-xmf", "-", "-C", remoteDir}

	req := a.clientset.CoreV1().RESTClient().Post().
		Resource("pods").Name(pod).Namespace(namespace).SubResource("exec")
	req.VersionedParams(&corev1.PodExecOptions{
		Container: opts.Container,
		Command:   argv,
		Stdin:     true,
		Stdout:    true,
		Stderr:    true,
	}, scheme.ParameterCodec)

	executor, err := a.newExecutor(a.config, "POST", req.URL())
	if err != nil {
		return &adapter.ConnectionError{Host: namespace + "/" + pod, Cause: err}
	}

	var stderr bytes.Buffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  pr,
		Stdout: io.Discard,
		Stderr: &stderr,
	})
	if err != nil {
		return &adapter.ContainerOperationError{Container: pod, Operation: "copyTo", Cause: fmt.Errorf("%w: %s", err, stderr.String())}
	}
	return nil
}

// CopyFrom streams remotePath out of pod by running `tar -cf -` remotely
// and extracting the resulting archive into localPath.
func (a *Adapter) CopyFrom(ctx context.Context, pod string, opts CommandOptions, remotePath, localPath string) error {
	namespace := opts.namespace(a.opts.Namespace)

	remoteDir := filepath.Dir(remotePath)
	remoteBase := filepath.Base(remotePath)
	argv := []string{"tar", "-cf", "-", "-C", remoteDir, remoteBase}

	req := a.clientset.CoreV1().RESTClient().Post().
		Resource("pods").Name(pod).Namespace(namespace).SubResource("exec")
	req.VersionedParams(&corev1.PodExecOptions{
		Container: opts.Container,
		Command:   argv,
		Stdout:    true,
		Stderr:    true,
	}, scheme.ParameterCodec)

	executor, err := a.newExecutor(a.config, "POST", req.URL())
	if err != nil {
		return &adapter.ConnectionError{Host: namespace + "/" + pod, Cause: err}
	}

	pr, pw := io.Pipe()
	var stderr bytes.Buffer
	streamErrCh := make(chan error, 1)
	go func() {
		streamErrCh <- executor.StreamWithContext(ctx, remotecommand.StreamOptions{
			Stdout: pw,
			Stderr: &stderr,
		})
		_ = pw.Close()
	}()

	if err := untarFile(pr, localPath); err != nil {
		return &adapter.ContainerOperationError{Container: pod, Operation: "copyFrom", Cause: err}
	}
	if err := <-streamErrCh; err != nil {
		return &adapter.ContainerOperationError{Container: pod, Operation: "copyFrom", Cause: fmt.Errorf("%w: %s", err, stderr.String())}
	}
	return nil
}

// tarFile writes a single-entry tar archive containing localPath's
// contents under entryName.
func tarFile(w io.Writer, localPath, entryName string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	tw := tar.NewWriter(w)
	hdr := &tar.Header{Name: entryName, Mode: int64(info.Mode().Perm()), Size: info.Size()}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := io.Copy(tw, f); err != nil {
		return err
	}
	return tw.Close()
}

// untarFile reads a tar stream and writes its first regular-file entry to
// localPath, creating parent directories as needed.
func untarFile(r io.Reader, localPath string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return errors.New("empty tar stream: remote path not found")
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			_ = out.Close()
			return err
		}
		return out.Close()
	}
}
