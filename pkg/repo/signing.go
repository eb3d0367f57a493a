package repo

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

// ErrUnsigned is returned when verifying a commit without a signature.
var ErrUnsigned = errors.New("commit is not signed")

// sshSignature is the value of a commit's signature header:
//
//	sshsig-v1:<format>:<base64 public key>:<base64 signature blob>
type sshSignature struct {
	format string
	key    []byte
	blob   []byte
}

const sshSignatureTag = "sshsig-v1"

func (s sshSignature) String() string {
	enc := base64.StdEncoding
	return strings.Join([]string{sshSignatureTag, s.format, enc.EncodeToString(s.key), enc.EncodeToString(s.blob)}, ":")
}

func parseSSHSignature(v string) (sshSignature, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 4 || parts[0] != sshSignatureTag {
		return sshSignature{}, fmt.Errorf("not an %s signature", sshSignatureTag)
	}
	key, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return sshSignature{}, fmt.Errorf("public key: %w", err)
	}
	blob, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return sshSignature{}, fmt.Errorf("signature blob: %w", err)
	}
	return sshSignature{format: parts[1], key: key, blob: blob}, nil
}

// NewSSHSigner signs commits with signer, embedding its public key.
func NewSSHSigner(signer ssh.Signer) CommitSigner {
	key := signer.PublicKey().Marshal()
	return func(payload []byte) (string, error) {
		sig, err := signer.Sign(rand.Reader, payload)
		if err != nil {
			return "", err
		}
		return sshSignature{format: sig.Format, key: key, blob: sig.Blob}.String(), nil
	}
}

// defaultSigningKeys are tried in order under ~/.ssh when no key is named.
var defaultSigningKeys = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// LoadSSHSigner loads an unencrypted private key. An empty keyPath picks
// the first default key found under ~/.ssh. The path used is returned.
func LoadSSHSigner(keyPath string) (CommitSigner, string, error) {
	path, err := signingKeyPath(strings.TrimSpace(keyPath))
	if err != nil {
		return nil, "", err
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("signing key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, "", fmt.Errorf("signing key %s: %w", path, err)
	}
	return NewSSHSigner(signer), path, nil
}

func signingKeyPath(keyPath string) (string, error) {
	home, homeErr := os.UserHomeDir()
	if keyPath != "" {
		if rest, ok := strings.CutPrefix(keyPath, "~/"); ok {
			if homeErr != nil {
				return "", fmt.Errorf("signing key: %w", homeErr)
			}
			keyPath = filepath.Join(home, rest)
		}
		return filepath.Abs(keyPath)
	}
	if homeErr != nil {
		return "", fmt.Errorf("signing key: %w", homeErr)
	}
	for _, name := range defaultSigningKeys {
		p := filepath.Join(home, ".ssh", name)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("signing key: none of %s found in ~/.ssh", strings.Join(defaultSigningKeys, ", "))
}

// VerifyCommitSignature checks c against the key embedded in its
// signature. A non-nil trusted key must be that key.
func VerifyCommitSignature(c *object.CommitObj, trusted ssh.PublicKey) error {
	if strings.TrimSpace(c.Signature) == "" {
		return ErrUnsigned
	}
	sig, err := parseSSHSignature(c.Signature)
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	pub, err := ssh.ParsePublicKey(sig.key)
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	if trusted != nil && !bytes.Equal(trusted.Marshal(), sig.key) {
		return fmt.Errorf("verify signature: signed by untrusted key %s", ssh.FingerprintSHA256(pub))
	}
	if err := pub.Verify(object.CommitSigningPayload(c), &ssh.Signature{Format: sig.format, Blob: sig.blob}); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}
