// Package tlsutil provides TLS material for the HTTPS listener: an
// ephemeral self-signed certificate for adhoc mode, and a file-backed
// certificate with hot reload for deployments with managed certs.
package tlsutil

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SelfSigned generates an ephemeral ECDSA P-256 certificate valid for one
// year, covering localhost plus any extra hosts.
func SelfSigned(hosts ...string) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsutil: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsutil: serial: %w", err)
	}

	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "trigramd"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     append([]string{"localhost"}, hosts...),
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsutil: create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}

// Reloader serves a certificate loaded from files and swaps it in place
// when the files change, so certificate renewals never require a restart.
type Reloader struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	cert     atomic.Pointer[tls.Certificate]
}

// NewReloader loads the initial certificate pair.
func NewReloader(certFile, keyFile string, logger *slog.Logger) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reloader{certFile: certFile, keyFile: keyFile, logger: logger}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// GetCertificate plugs into tls.Config.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.cert.Load(), nil
}

func (r *Reloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("tlsutil: load key pair: %w", err)
	}
	r.cert.Store(&cert)
	return nil
}

// Watch blocks until ctx is done, reloading the certificate whenever
// either file changes. Certificate managers typically replace files via
// rename, so the parent directory is watched rather than the files
// themselves.
func (r *Reloader) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Error("cert watcher init failed", slog.String("error", err.Error()))
		return
	}
	defer watcher.Close()

	dirs := map[string]struct{}{
		filepath.Dir(r.certFile): {},
		filepath.Dir(r.keyFile):  {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			r.logger.Error("cert watcher add failed",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !r.relevant(ev) {
				continue
			}
			if err := r.reload(); err != nil {
				// Likely caught mid-replacement; keep serving the old pair.
				r.logger.Warn("cert reload failed", slog.String("error", err.Error()))
				continue
			}
			r.logger.Info("tls certificate reloaded", slog.String("cert", r.certFile))

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("cert watcher error", slog.String("error", err.Error()))
		}
	}
}

func (r *Reloader) relevant(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(ev.Name)
	return name == filepath.Clean(r.certFile) || name == filepath.Clean(r.keyFile)
}
