package egress

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrGenerateCAPersistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrGenerateCA(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerateCA: %v", err)
	}
	second, err := LoadOrGenerateCA(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerateCA (reload): %v", err)
	}

	if string(first.CertPEM()) != string(second.CertPEM()) {
		t.Error("expected reloaded CA to have the same certificate as the generated one")
	}

	info, err := os.Stat(filepath.Join(dir, "ca-key.pem"))
	if err != nil {
		t.Fatalf("stat ca-key.pem: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected ca-key.pem mode 0600, got %o", perm)
	}
}

func TestCACertPEMIsValidCA(t *testing.T) {
	dir := t.TempDir()
	ca, err := LoadOrGenerateCA(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerateCA: %v", err)
	}

	block, _ := pem.Decode(ca.CertPEM())
	if block == nil {
		t.Fatal("expected a decodable PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}
	if !cert.IsCA {
		t.Error("expected generated certificate to be a CA")
	}
}

func TestLeafForIsCachedAndSignedByCA(t *testing.T) {
	dir := t.TempDir()
	ca, err := LoadOrGenerateCA(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerateCA: %v", err)
	}

	leaf1, err := ca.LeafFor("api.anthropic.com")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	leaf2, err := ca.LeafFor("api.anthropic.com")
	if err != nil {
		t.Fatalf("LeafFor (cached): %v", err)
	}
	if len(leaf1.Certificate) == 0 || string(leaf1.Certificate[0]) != string(leaf2.Certificate[0]) {
		t.Error("expected repeated LeafFor calls for the same host to return the cached leaf")
	}

	leafCert, err := x509.ParseCertificate(leaf1.Certificate[0])
	if err != nil {
		t.Fatalf("parsing leaf certificate: %v", err)
	}
	caCert, err := x509.ParseCertificate(ca.cert.Raw)
	if err != nil {
		t.Fatalf("parsing CA certificate: %v", err)
	}
	if err := leafCert.CheckSignatureFrom(caCert); err != nil {
		t.Errorf("expected leaf to be signed by the CA: %v", err)
	}
}
