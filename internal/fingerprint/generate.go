package fingerprint

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Quasi-stable attributes collected from the device.
type DeviceAttributes struct {
	Platform  string
	Model     string
	OSVersion string
	VendorID  string
}

// Produces the stable pseudo-identifier a client sends in the fingerprint
// header. The identifier mixes device attributes with a locally persisted
// random seed, so two identical device models still fingerprint
// differently. Generation must never block app functionality: any failure
// falls back to a pure-random identifier.
type Generator struct {
	seedPath string
}

func NewGenerator(seedPath string) *Generator {
	return &Generator{seedPath: seedPath}
}

func (g *Generator) Generate(attrs DeviceAttributes) string {
	seed, err := g.loadOrCreateSeed()
	if err != nil {
		return randomIdentifier()
	}

	material := strings.Join([]string{
		attrs.Platform,
		attrs.Model,
		attrs.OSVersion,
		attrs.VendorID,
		seed,
	}, "|")

	hash := sha256.Sum256([]byte(material))
	return hex.EncodeToString(hash[:])
}

func (g *Generator) loadOrCreateSeed() (string, error) {
	data, err := os.ReadFile(g.seedPath)
	if err == nil && len(data) > 0 {
		return strings.TrimSpace(string(data)), nil
	}

	seedBytes := make([]byte, 16)
	if _, err := rand.Read(seedBytes); err != nil {
		return "", err
	}
	seed := hex.EncodeToString(seedBytes)

	if err := os.MkdirAll(filepath.Dir(g.seedPath), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(g.seedPath, []byte(seed), 0o600); err != nil {
		return "", err
	}

	return seed, nil
}

func randomIdentifier() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
