package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/tstromberg/stocktag/pkg/stocktag"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"k8s.io/klog/v2"
)

// SFTP transfers each file of a batch into a fixed remote directory.
type SFTP struct {
	Host      string
	Port      int
	User      string
	Password  string
	RemoteDir string

	// KnownHosts is the known_hosts file used to verify the server; defaults to ~/.ssh/known_hosts.
	KnownHosts string
	// Insecure skips host key verification.
	Insecure bool
	Timeout  time.Duration

	// OnProgress is called after each transferred file.
	OnProgress func(done, total int, name string)
}

// remoteFS is the subset of an SFTP session used for uploads.
type remoteFS interface {
	MkdirAll(dir string) error
	Create(path string) (io.WriteCloser, error)
}

type sftpFS struct{ c *sftp.Client }

func (s sftpFS) MkdirAll(dir string) error { return s.c.MkdirAll(dir) }

func (s sftpFS) Create(p string) (io.WriteCloser, error) {
	f, err := s.c.Create(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SFTP) Name() string { return "sftp" }

// Deliver implements stocktag.Sink, returning the remote destination.
func (s *SFTP) Deliver(ctx context.Context, items []stocktag.ProcessedItem) (string, error) {
	hkc, err := s.hostKeyCallback()
	if err != nil {
		return "", transportErr(s.Name(), 0, len(items), err)
	}

	timeout := s.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	addr := net.JoinHostPort(s.Host, fmt.Sprint(s.port()))
	klog.Infof("connecting to %s@%s ...", s.User, addr)

	conn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            s.User,
		Auth:            []ssh.AuthMethod{ssh.Password(s.Password)},
		HostKeyCallback: hkc,
		Timeout:         timeout,
	})
	if err != nil {
		return "", transportErr(s.Name(), 0, len(items), fmt.Errorf("dial: %w", err))
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return "", transportErr(s.Name(), 0, len(items), fmt.Errorf("sftp: %w", err))
	}
	defer client.Close()

	if err := s.upload(ctx, sftpFS{c: client}, items); err != nil {
		return "", err
	}
	return fmt.Sprintf("sftp://%s@%s%s", s.User, addr, s.remoteDir()), nil
}

// upload copies items to fs, returning a *stocktag.TransportError that counts what made it.
func (s *SFTP) upload(ctx context.Context, fs remoteFS, items []stocktag.ProcessedItem) error {
	dir := s.remoteDir()
	if err := fs.MkdirAll(dir); err != nil {
		return transportErr(s.Name(), 0, len(items), fmt.Errorf("mkdir %s: %w", dir, err))
	}

	for n, i := range items {
		if err := ctx.Err(); err != nil {
			return transportErr(s.Name(), n, len(items), err)
		}

		name := filepath.Base(i.Path)
		if err := put(fs, i.Path, path.Join(dir, name)); err != nil {
			return transportErr(s.Name(), n, len(items), fmt.Errorf("%s: %w", name, err))
		}

		klog.Infof("transferred %d/%d: %s", n+1, len(items), name)
		if s.OnProgress != nil {
			s.OnProgress(n+1, len(items), name)
		}
	}
	return nil
}

func put(fs remoteFS, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	w, err := fs.Create(remote)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("copy: %w", err)
	}
	return w.Close()
}

func (s *SFTP) port() int {
	if s.Port == 0 {
		return 22
	}
	return s.Port
}

func (s *SFTP) remoteDir() string {
	if s.RemoteDir == "" {
		return "/"
	}
	return s.RemoteDir
}

func (s *SFTP) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.Insecure {
		klog.Warningf("host key verification disabled for %s", s.Host)
		return ssh.InsecureIgnoreHostKey(), nil
	}

	kh := s.KnownHosts
	if kh == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("home dir: %w", err)
		}
		kh = filepath.Join(home, ".ssh", "known_hosts")
	}

	cb, err := knownhosts.New(kh)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("known_hosts %s not found; add the server key or use insecure mode", kh)
		}
		return nil, fmt.Errorf("known_hosts: %w", err)
	}
	return cb, nil
}
