package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/signalsfoundry/ephemeris-server/internal/logging"
)

// TLSConfig names the key pair served to clients. TLS is enabled only when
// both files are set. Passphrase decrypts a legacy encrypted PEM key.
type TLSConfig struct {
	CertFile   string
	KeyFile    string
	Passphrase string
	// Watch reloads the pair whenever either file changes on disk.
	Watch bool
}

// Enabled reports whether a key pair is configured.
func (c TLSConfig) Enabled() bool { return c.CertFile != "" && c.KeyFile != "" }

// LoadCertificate reads the key pair, decrypting the key with passphrase when
// it is an encrypted PEM block.
func LoadCertificate(certFile, keyFile, passphrase string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read key: %w", err)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return tls.Certificate{}, fmt.Errorf("key %s: no PEM block", keyFile)
	}
	// RFC 1423 encryption, as written by openssl -aes256 or -des3.
	if x509.IsEncryptedPEMBlock(block) {
		if passphrase == "" {
			return tls.Certificate{}, fmt.Errorf("key %s is encrypted and no passphrase is set", keyFile)
		}
		der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("decrypt key %s: %w", keyFile, err)
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der})
	} else if block.Type == "ENCRYPTED PRIVATE KEY" {
		return tls.Certificate{}, errors.New("PKCS#8 encrypted keys are not supported; convert with openssl pkey")
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("key pair: %w", err)
	}
	return cert, nil
}

// certStore serves the current certificate and swaps it on reload.
type certStore struct {
	cfg TLSConfig
	log logging.Logger

	mu   sync.RWMutex
	cert *tls.Certificate
}

func newCertStore(cfg TLSConfig, log logging.Logger) (*certStore, error) {
	s := &certStore{cfg: cfg, log: log}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *certStore) reload() error {
	cert, err := LoadCertificate(s.cfg.CertFile, s.cfg.KeyFile, s.cfg.Passphrase)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cert = &cert
	s.mu.Unlock()
	return nil
}

// GetCertificate matches tls.Config.GetCertificate.
func (s *certStore) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cert, nil
}

func (s *certStore) tlsConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: s.GetCertificate,
	}
}

// watch reloads the pair when either file is written, created or renamed
// into place. The parent directories are watched rather than the files so
// that atomic replacement by renewal tools is seen. A failed reload keeps
// the previous certificate.
func (s *certStore) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create certificate watcher: %w", err)
	}
	defer w.Close()

	targets := map[string]bool{}
	for _, f := range []string{s.cfg.CertFile, s.cfg.KeyFile} {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		targets[abs] = true
	}
	dirs := map[string]bool{}
	for f := range targets {
		dir := filepath.Dir(f)
		if dirs[dir] {
			continue
		}
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	s.log.Info(ctx, "watching TLS certificate", logging.String("cert", s.cfg.CertFile), logging.String("key", s.cfg.KeyFile))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("certificate watcher closed")
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil || !targets[name] {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.reload(); err != nil {
				// Expected while a renewal has written only one of the two files.
				s.log.Warn(ctx, "TLS certificate reload failed", logging.String("file", ev.Name), logging.Err(err))
				continue
			}
			s.log.Info(ctx, "TLS certificate reloaded", logging.String("file", ev.Name))
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("certificate watcher closed")
			}
			s.log.Warn(ctx, "certificate watcher error", logging.Err(err))
		}
	}
}
